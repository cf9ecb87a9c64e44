package types

import "time"

// EpisodicMemory is one stored summary of a past interaction, retrieved by
// vector similarity. Score is only populated on search results.
type EpisodicMemory struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score,omitempty"`
	Scored    bool    `json:"-"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// ConsolidatedPrefix marks episodic records produced by the consolidation
// engine so they are excluded from future consolidation passes.
const ConsolidatedPrefix = "[Consolidated] "

// Node is a semantic graph entity. Referencing an unknown id creates it
// (upsert semantics); ids are unique within a user's namespace.
type Node struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Relationship is a directed typed edge between two nodes. The raw type
// string is sanitized before it reaches the graph store.
type Relationship struct {
	Source     Node                   `json:"source"`
	Target     Node                   `json:"target"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// KnowledgeGraph is the structured-extraction contract for a single turn.
// It is never persisted as its own entity, only used to drive graph writes.
type KnowledgeGraph struct {
	Relationships []Relationship `json:"relationships"`
}

// SemanticFact is one edge returned from a semantic search or inspection.
type SemanticFact struct {
	Source       Node    `json:"source"`
	Relationship string  `json:"relationship"`
	Target       Node    `json:"target"`
	Score        float64 `json:"score,omitempty"`
}

// GraphSchema is a global (not user-scoped) view of the graph's vocabulary.
type GraphSchema struct {
	NodeLabels        []string `json:"node_labels"`
	RelationshipTypes []string `json:"relationship_types"`
}

// MemoryContext is the combined result of the three-way retrieval fan-out,
// concatenated in fixed order for prompt injection.
type MemoryContext struct {
	ThreadContext string `json:"thread_context"`
	Episodic      string `json:"episodic"`
	Semantic      string `json:"semantic"`
	Combined      string `json:"combined"`
}

// ConsolidationResult reports one consolidation run for a user.
type ConsolidationResult struct {
	UserID         string `json:"user_id"`
	MemoriesBefore int    `json:"memories_before"`
	MemoriesAfter  int    `json:"memories_after"`
	BatchesMerged  int    `json:"batches_merged"`
	Message        string `json:"message"`
}

// UserProfile is a synthesized view of a user's semantic memory.
type UserProfile struct {
	UserID      string         `json:"user_id"`
	Name        string         `json:"name,omitempty"`
	Preferences []string       `json:"preferences"`
	Goals       []string       `json:"goals"`
	Interests   []string       `json:"interests"`
	Facts       []string       `json:"facts"`
	RawTriples  []SemanticFact `json:"raw_triples"`
}

// Timestamp is the canonical wire format for episodic created_at payloads.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
