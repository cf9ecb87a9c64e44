package interfaces

import (
	"context"

	"github.com/hanachan/kioku/internal/types"
)

// EpisodicStore is content-addressable storage for short interaction
// summaries, scoped by user. Search and list never cross user partitions.
type EpisodicStore interface {
	// Add embeds text and stores it, returning the new record id.
	Add(ctx context.Context, userID, text string) (string, error)

	// Search returns the k nearest memories for the user, best first, each
	// carrying a similarity score. A failed search is an error, not an
	// empty result.
	Search(ctx context.Context, userID, query string, k int) ([]types.EpisodicMemory, error)

	// List returns up to limit memories for the user, newest first.
	List(ctx context.Context, userID string, limit int) ([]types.EpisodicMemory, error)

	DeleteOne(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
	Health(ctx context.Context) error
}

// SemanticStore is the typed entity/relationship graph, scoped by user.
type SemanticStore interface {
	// UpsertFacts writes relationships (endpoints first, then edges) in one
	// atomic transaction, returning the count written.
	UpsertFacts(ctx context.Context, userID string, relationships []types.Relationship) (int, error)

	// UpsertManual writes standalone nodes plus relationships atomically.
	UpsertManual(ctx context.Context, userID string, nodes []types.Node, relationships []types.Relationship) (int, int, error)

	// Search runs a fulltext match over node ids/types, falling back to
	// recent persona edges for generic queries. Results are deduplicated
	// by (source, type, target).
	Search(ctx context.Context, userID string, keywords []string) ([]types.SemanticFact, error)

	// Inspect returns the user's edge list, bounded.
	Inspect(ctx context.Context, userID string) ([]types.SemanticFact, error)

	Schema(ctx context.Context) (*types.GraphSchema, error)
	Clear(ctx context.Context, userID string) error
	Health(ctx context.Context) error
}
