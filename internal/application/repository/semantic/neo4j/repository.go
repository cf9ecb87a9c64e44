// Package neo4j implements the semantic store as a per-user entity graph.
// Nodes carry a user_id property and every query filters on it, so one
// database serves all users without label gymnastics.
package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

const (
	fulltextIndex = "entity"
	searchLimit   = 30
	inspectLimit  = 100
	fewHitsFloor  = 10
)

type semanticRepository struct {
	driver       neo4j.Driver
	noiseWords   map[string]struct{}
	genericWords map[string]struct{}
}

// NewSemanticRepository wraps an injected driver. noiseWords are dropped from
// search keywords; genericWords trigger the persona-edge fallback when the
// whole query is made of them.
func NewSemanticRepository(driver neo4j.Driver, noiseWords, genericWords []string) interfaces.SemanticStore {
	return &semanticRepository{
		driver:       driver,
		noiseWords:   toSet(noiseWords),
		genericWords: toSet(genericWords),
	}
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Init ensures the fulltext index used by Search exists.
func Init(ctx context.Context, driver neo4j.Driver) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(
			"CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:Entity) ON EACH [n.id, n.type]",
			fulltextIndex,
		)
		_, err := tx.Run(ctx, query, nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to create fulltext index: %w", err)
	}
	return nil
}

func (r *semanticRepository) UpsertFacts(ctx context.Context, userID string, relationships []types.Relationship) (int, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, rel := range relationships {
			if err := upsertNode(ctx, tx, userID, rel.Source); err != nil {
				return nil, err
			}
			if err := upsertNode(ctx, tx, userID, rel.Target); err != nil {
				return nil, err
			}
			if err := upsertEdge(ctx, tx, userID, rel); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert facts: %w", err)
	}

	logger.Debugf(ctx, "upserted %d relationships for user %s", len(relationships), userID)
	return len(relationships), nil
}

func (r *semanticRepository) UpsertManual(ctx context.Context, userID string, nodes []types.Node, relationships []types.Relationship) (int, int, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, node := range nodes {
			if err := upsertNode(ctx, tx, userID, node); err != nil {
				return nil, err
			}
		}
		for _, rel := range relationships {
			if err := upsertNode(ctx, tx, userID, rel.Source); err != nil {
				return nil, err
			}
			if err := upsertNode(ctx, tx, userID, rel.Target); err != nil {
				return nil, err
			}
			if err := upsertEdge(ctx, tx, userID, rel); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to update graph: %w", err)
	}
	return len(nodes), len(relationships), nil
}

func upsertNode(ctx context.Context, tx neo4j.ManagedTransaction, userID string, node types.Node) error {
	query := `
		MERGE (n:Entity {id: $id, user_id: $user_id})
		SET n.type = $type
		SET n += $props
	`
	props := node.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	_, err := tx.Run(ctx, query, map[string]interface{}{
		"id":      node.ID,
		"user_id": userID,
		"type":    node.Type,
		"props":   props,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
	}
	return nil
}

func upsertEdge(ctx context.Context, tx neo4j.ManagedTransaction, userID string, rel types.Relationship) error {
	// The relationship type cannot be a parameter; it is sanitized before
	// being spliced into the query.
	query := fmt.Sprintf(`
		MATCH (s:Entity {id: $source, user_id: $user_id})
		MATCH (t:Entity {id: $target, user_id: $user_id})
		MERGE (s)-[r:%s]->(t)
		SET r += $props
	`, SanitizeRelType(rel.Type))
	props := rel.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	_, err := tx.Run(ctx, query, map[string]interface{}{
		"source":  rel.Source.ID,
		"target":  rel.Target.ID,
		"user_id": userID,
		"props":   props,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert edge %s-%s: %w", rel.Source.ID, rel.Target.ID, err)
	}
	return nil
}

func (r *semanticRepository) Search(ctx context.Context, userID string, keywords []string) ([]types.SemanticFact, error) {
	useful, allGeneric := r.filterKeywords(keywords)
	if len(useful) == 0 || allGeneric {
		return r.personaEdges(ctx, userID)
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
			WHERE node.user_id = $user_id
			MATCH (node)-[r]-(other:Entity {user_id: $user_id})
			RETURN node, r, other, score
			ORDER BY score DESC
			LIMIT $limit
		`
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"index":   fulltextIndex,
			"query":   fuzzyQuery(useful),
			"user_id": userID,
			"limit":   searchLimit,
		})
		if err != nil {
			return nil, err
		}

		var facts []types.SemanticFact
		for res.Next(ctx) {
			record := res.Record()
			matched := nodeFrom(record, "node")
			other := nodeFrom(record, "other")
			relValue, _ := record.Get("r")
			edge := relValue.(neo4j.Relationship)
			scoreValue, _ := record.Get("score")
			score, _ := scoreValue.(float64)

			// The fulltext hit may be either endpoint; orient the fact
			// along the stored edge direction.
			fact := types.SemanticFact{
				Source:       matched,
				Relationship: edge.Type,
				Target:       other,
				Score:        score,
			}
			matchedNode, _ := record.Get("node")
			if edge.StartElementId != matchedNode.(neo4j.Node).ElementId {
				fact.Source, fact.Target = other, matched
			}
			facts = append(facts, fact)
		}
		return facts, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search graph: %w", err)
	}

	facts := dedupeFacts(result.([]types.SemanticFact))
	// Sparse fulltext results get padded with the user's recent edges, so a
	// near-miss query still surfaces something useful.
	if len(facts) < fewHitsFloor {
		persona, err := r.edgeList(ctx, userID, searchLimit)
		if err != nil {
			logger.Warnf(ctx, "persona supplement failed: %v", err)
			return facts, nil
		}
		facts = dedupeFacts(append(facts, persona...))
	}
	return facts, nil
}

// personaEdges serves generic self-referential queries ("what do you know
// about me") with the user's recent edges instead of a useless fuzzy match.
func (r *semanticRepository) personaEdges(ctx context.Context, userID string) ([]types.SemanticFact, error) {
	facts, err := r.edgeList(ctx, userID, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load persona edges: %w", err)
	}
	return facts, nil
}

func (r *semanticRepository) Inspect(ctx context.Context, userID string) ([]types.SemanticFact, error) {
	facts, err := r.edgeList(ctx, userID, inspectLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect graph: %w", err)
	}
	return facts, nil
}

func (r *semanticRepository) edgeList(ctx context.Context, userID string, limit int) ([]types.SemanticFact, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH (s:Entity {user_id: $user_id})-[r]->(t:Entity {user_id: $user_id})
			RETURN s, r, t
			LIMIT $limit
		`
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"user_id": userID,
			"limit":   limit,
		})
		if err != nil {
			return nil, err
		}

		var facts []types.SemanticFact
		for res.Next(ctx) {
			record := res.Record()
			relValue, _ := record.Get("r")
			facts = append(facts, types.SemanticFact{
				Source:       nodeFrom(record, "s"),
				Relationship: relValue.(neo4j.Relationship).Type,
				Target:       nodeFrom(record, "t"),
			})
		}
		return facts, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return dedupeFacts(result.([]types.SemanticFact)), nil
}

func (r *semanticRepository) Schema(ctx context.Context) (*types.GraphSchema, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		schema := &types.GraphSchema{}

		res, err := tx.Run(ctx, "CALL db.labels() YIELD label RETURN label", nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			if v, ok := res.Record().Get("label"); ok {
				schema.NodeLabels = append(schema.NodeLabels, v.(string))
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			if v, ok := res.Record().Get("relationshipType"); ok {
				schema.RelationshipTypes = append(schema.RelationshipTypes, v.(string))
			}
		}
		return schema, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read graph schema: %w", err)
	}
	return result.(*types.GraphSchema), nil
}

func (r *semanticRepository) Clear(ctx context.Context, userID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		_, err := tx.Run(ctx, "MATCH (n:Entity {user_id: $user_id}) DETACH DELETE n",
			map[string]interface{}{"user_id": userID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to clear graph for user %s: %w", userID, err)
	}
	return nil
}

func (r *semanticRepository) Health(ctx context.Context) error {
	if err := r.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j unreachable: %w", err)
	}
	return nil
}

// filterKeywords drops noise words and reports whether everything left (or
// everything supplied) is generic self-reference.
func (r *semanticRepository) filterKeywords(keywords []string) (useful []string, allGeneric bool) {
	allGeneric = true
	for _, kw := range keywords {
		lower := strings.ToLower(strings.TrimSpace(kw))
		if lower == "" {
			continue
		}
		if _, noise := r.noiseWords[lower]; noise {
			continue
		}
		if _, generic := r.genericWords[lower]; !generic {
			allGeneric = false
		}
		useful = append(useful, lower)
	}
	if len(useful) == 0 {
		allGeneric = true
	}
	return useful, allGeneric
}

const maxQueryTerms = 10

// fuzzyQuery builds a Lucene OR-of-fuzzy-terms query from the keywords.
// Multi-word terms become exact phrases; Lucene fuzziness is per-term only.
func fuzzyQuery(keywords []string) string {
	if len(keywords) > maxQueryTerms {
		keywords = keywords[:maxQueryTerms]
	}
	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			terms = append(terms, `"`+escapeLucene(kw)+`"`)
			continue
		}
		terms = append(terms, escapeLucene(kw)+"~")
	}
	return strings.Join(terms, " OR ")
}

func escapeLucene(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`+-&|!(){}[]^"~*?:\/`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nodeFrom(record *neo4j.Record, key string) types.Node {
	value, _ := record.Get(key)
	node := value.(neo4j.Node)

	out := types.Node{Properties: map[string]interface{}{}}
	for k, v := range node.Props {
		switch k {
		case "id":
			out.ID, _ = v.(string)
		case "type":
			out.Type, _ = v.(string)
		case "user_id":
			// internal partition key, not part of the fact
		default:
			out.Properties[k] = v
		}
	}
	if len(out.Properties) == 0 {
		out.Properties = nil
	}
	return out
}

func dedupeFacts(facts []types.SemanticFact) []types.SemanticFact {
	seen := make(map[string]struct{}, len(facts))
	out := facts[:0]
	for _, f := range facts {
		key := f.Source.ID + "\x00" + f.Relationship + "\x00" + f.Target.ID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
