package utils

import "github.com/sashabaranov/go-openai/jsonschema"

// GenerateSchema builds a JSON schema definition for T, used to constrain
// structured-output LLM calls. Schema generation only depends on the type
// shape, so a failure here is a programming error.
func GenerateSchema[T any]() *jsonschema.Definition {
	var v T
	schema, err := jsonschema.GenerateSchemaForType(v)
	if err != nil {
		panic(err)
	}
	return schema
}
