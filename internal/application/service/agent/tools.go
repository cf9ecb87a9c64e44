package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

// Tool names exposed to the planner.
const (
	toolEpisodicMemory   = "get_episodic_memory"
	toolSemanticFacts    = "get_semantic_facts"
	toolLearningProgress = "get_user_learning_progress"
	toolKnowledgeUnits   = "search_knowledge_units"
)

// Bridge exposes the memory layers and the learning database as planner
// tools. The authenticated user id always overrides whatever the model put
// in the arguments; the model never chooses whose memory it reads.
type Bridge struct {
	episodic     interfaces.EpisodicStore
	semantic     interfaces.SemanticStore
	learning     interfaces.LearningRepository
	episodicTopK int
}

func NewBridge(episodic interfaces.EpisodicStore, semantic interfaces.SemanticStore, learning interfaces.LearningRepository, episodicTopK int) *Bridge {
	return &Bridge{
		episodic:     episodic,
		semantic:     semantic,
		learning:     learning,
		episodicTopK: episodicTopK,
	}
}

// Specs returns the tool declarations handed to the planner.
func (b *Bridge) Specs() []chat.Tool {
	return []chat.Tool{
		{
			Name: toolEpisodicMemory,
			Description: "Search past conversation summaries for context about the user's history or preferences. " +
				"Use this if you need to remember what was discussed in previous sessions.",
			Parameters: objectSchema(map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "What to look for in past conversations"},
			}, "query"),
		},
		{
			Name: toolSemanticFacts,
			Description: "Search structured facts about the user (interests, goals, preferred settings). " +
				"Use this for specific factual questions about the person.",
			Parameters: objectSchema(map[string]interface{}{
				"keywords": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Keywords to match against known facts",
				},
			}, "keywords"),
		},
		{
			Name: toolLearningProgress,
			Description: "Retrieve live learning stats for a specific Japanese character or slug. " +
				"Identifiers can be kanji (e.g. '桜'), slugs (e.g. 'sakura'), or words.",
			Parameters: objectSchema(map[string]interface{}{
				"identifier": map[string]interface{}{"type": "string", "description": "Character, slug, or word to look up"},
			}, "identifier"),
		},
		{
			Name: toolKnowledgeUnits,
			Description: "Search the general Japanese knowledge database for meanings, characters, or slugs. " +
				"Use this if the user asks 'What does X mean?' or 'How do you write Y?'.",
			Parameters: objectSchema(map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "Character, slug, or meaning to search for"},
			}, "query"),
		},
	}
}

// Execute runs one tool call on behalf of userID. Unknown tools and bad
// arguments come back as result text for the planner to read, not as errors;
// the loop keeps going either way.
func (b *Bridge) Execute(ctx context.Context, userID string, call chat.ToolCall) string {
	args := call.ParseArguments()

	switch call.Name {
	case toolEpisodicMemory:
		return b.episodicMemory(ctx, userID, stringArg(args, "query"))
	case toolSemanticFacts:
		return b.semanticFacts(ctx, userID, stringSliceArg(args, "keywords"))
	case toolLearningProgress:
		return b.learningProgress(ctx, userID, stringArg(args, "identifier"))
	case toolKnowledgeUnits:
		return b.knowledgeUnits(ctx, stringArg(args, "query"))
	default:
		logger.Warnf(ctx, "planner requested unknown tool %q", call.Name)
		return fmt.Sprintf("Unknown tool '%s'.", call.Name)
	}
}

func (b *Bridge) episodicMemory(ctx context.Context, userID, query string) string {
	results, err := b.episodic.Search(ctx, userID, query, b.episodicTopK)
	if err != nil {
		logger.Errorf(ctx, "episodic tool failed: %v", err)
		return "Episodic memory is currently unavailable."
	}
	if len(results) == 0 {
		return "No relevant past conversations found."
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s (Context score: %.2f)", r.Text, r.Score))
	}
	return strings.Join(lines, "\n")
}

func (b *Bridge) semanticFacts(ctx context.Context, userID string, keywords []string) string {
	results, err := b.semantic.Search(ctx, userID, keywords)
	if err != nil {
		logger.Errorf(ctx, "semantic tool failed: %v", err)
		return "Semantic memory is currently unavailable."
	}
	if len(results) == 0 {
		return "No specific facts found for these keywords."
	}
	if len(results) > 15 {
		results = results[:15]
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- (%s) -[%s]-> (%s)", r.Source.ID, r.Relationship, r.Target.ID))
	}
	return strings.Join(lines, "\n")
}

func (b *Bridge) learningProgress(ctx context.Context, userID, identifier string) string {
	status, err := b.learning.Status(ctx, userID, identifier)
	if err != nil {
		if errors.Is(err, types.ErrLearningRecordNotFound) {
			return fmt.Sprintf("No learning record found for '%s'.", identifier)
		}
		logger.Errorf(ctx, "learning status tool failed: %v", err)
		return "The learning database is currently unavailable."
	}

	nextReview := "Not scheduled"
	if status.NextReview != nil {
		nextReview = status.NextReview.Format("2006-01-02")
	}
	return fmt.Sprintf(
		"Item: %s (%s)\nState: %s\nReps: %d, Difficulty: %.2f\nNext Review: %s",
		status.Character, status.Meaning, status.State, status.Reps, status.Difficulty, nextReview,
	)
}

func (b *Bridge) knowledgeUnits(ctx context.Context, query string) string {
	results, err := b.learning.SearchUnits(ctx, query, 5)
	if err != nil {
		logger.Errorf(ctx, "knowledge unit tool failed: %v", err)
		return "The knowledge database is currently unavailable."
	}
	if len(results) == 0 {
		return fmt.Sprintf("No knowledge units found for '%s'.", query)
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s (%s) [slug: %s, type: %s]", r.Character, r.Meaning, r.Slug, r.Type))
	}
	return strings.Join(lines, "\n")
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		// Some models send a single keyword instead of an array.
		return []string{v}
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		var out []string
		if json.Unmarshal(b, &out) == nil {
			return out
		}
		return nil
	}
}
