// Package postgres reads the knowledge-unit database and per-user learning
// states. The tables are seeded out of band; this repository only reads them
// and appends agent notes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

type learningRepository struct {
	pool *pgxpool.Pool
}

func NewLearningRepository(pool *pgxpool.Pool) interfaces.LearningRepository {
	return &learningRepository{pool: pool}
}

func (r *learningRepository) Status(ctx context.Context, userID, identifier string) (*types.KUStatus, error) {
	var status types.KUStatus
	err := r.pool.QueryRow(ctx, `
		SELECT ku.id, ku.slug, ku.type, ku.character, ku.meaning, ku.level,
		       COALESCE(ls.state, 'new'),
		       COALESCE(ls.stability, 0),
		       COALESCE(ls.difficulty, 0),
		       COALESCE(ls.reps, 0),
		       COALESCE(ls.lapses, 0),
		       COALESCE(ls.notes, ''),
		       ls.next_review,
		       ls.last_review
		FROM knowledge_units ku
		LEFT JOIN user_learning_states ls
		       ON ls.ku_id = ku.id AND ls.user_id = $1
		WHERE ku.character = $2 OR ku.slug = $2
		LIMIT 1
	`, userID, strings.TrimSpace(identifier)).Scan(
		&status.KUID, &status.Slug, &status.Type, &status.Character,
		&status.Meaning, &status.Level,
		&status.State, &status.Stability, &status.Difficulty,
		&status.Reps, &status.Lapses, &status.Notes,
		&status.NextReview, &status.LastReview,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrLearningRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load learning status for %q: %w", identifier, err)
	}
	return &status, nil
}

func (r *learningRepository) SearchUnits(ctx context.Context, query string, limit int) ([]types.KnowledgeUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, slug, type, character, meaning, level, mnemonics
		FROM knowledge_units
		WHERE character = $1 OR slug = $1 OR meaning ILIKE '%' || $1 || '%'
		ORDER BY level ASC
		LIMIT $2
	`, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge units: %w", err)
	}
	defer rows.Close()

	var units []types.KnowledgeUnit
	for rows.Next() {
		var (
			unit      types.KnowledgeUnit
			mnemonics []byte
		)
		if err := rows.Scan(&unit.ID, &unit.Slug, &unit.Type, &unit.Character,
			&unit.Meaning, &unit.Level, &mnemonics); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge unit: %w", err)
		}
		if len(mnemonics) > 0 {
			if err := json.Unmarshal(mnemonics, &unit.Mnemonics); err != nil {
				return nil, fmt.Errorf("failed to decode mnemonics for %s: %w", unit.ID, err)
			}
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// AddNote appends to the notes of the user's learning state, creating the
// state row when the user has never reviewed the unit.
func (r *learningRepository) AddNote(ctx context.Context, userID, kuID, note string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_learning_states (user_id, ku_id, state, notes)
		VALUES ($1, $2, 'new', $3)
		ON CONFLICT (user_id, ku_id) DO UPDATE
		SET notes = CASE
			WHEN user_learning_states.notes IS NULL OR user_learning_states.notes = ''
			THEN EXCLUDED.notes
			ELSE user_learning_states.notes || E'\n' || EXCLUDED.notes
		END
	`, userID, kuID, note)
	if err != nil {
		return fmt.Errorf("failed to add note for unit %s: %w", kuID, err)
	}
	return nil
}
