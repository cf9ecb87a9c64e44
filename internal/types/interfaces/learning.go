package interfaces

import (
	"context"

	"github.com/hanachan/kioku/internal/types"
)

// LearningRepository reads the knowledge-unit database and per-user learning
// states, and appends agent-produced notes to a state record.
type LearningRepository interface {
	// Status resolves an identifier (character or slug) to the unit plus
	// the user's state; returns types.ErrLearningRecordNotFound when the
	// identifier matches nothing.
	Status(ctx context.Context, userID, identifier string) (*types.KUStatus, error)

	// SearchUnits matches units by character, slug, or fuzzy meaning.
	SearchUnits(ctx context.Context, query string, limit int) ([]types.KnowledgeUnit, error)

	// AddNote appends a note to the user's learning state for a unit,
	// creating the state row when absent.
	AddNote(ctx context.Context, userID, kuID, note string) error
}
