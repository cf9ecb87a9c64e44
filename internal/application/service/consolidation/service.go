// Package consolidation compresses a user's episodic memories: batches of
// raw memories are merged into single richer summaries, shrinking the store
// without losing facts.
package consolidation

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/hanachan/kioku/internal/config"
	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

const consolidationPrompt = `You are an expert at consolidating memories. Given a list of short memory summaries about a user's interactions, synthesise them into a single, richer, concise summary that preserves all important facts without redundancy. Write in third person. Keep it under 3 sentences.`

type Service struct {
	episodic  interfaces.EpisodicStore
	sessions  interfaces.SessionRepository
	locker    interfaces.AdvisoryLocker
	chatModel chat.Chat
	cfg       config.ConsolidationConfig
}

func NewService(episodic interfaces.EpisodicStore, sessions interfaces.SessionRepository, locker interfaces.AdvisoryLocker, chatModel chat.Chat, cfg config.ConsolidationConfig) *Service {
	return &Service{
		episodic:  episodic,
		sessions:  sessions,
		locker:    locker,
		chatModel: chatModel,
		cfg:       cfg,
	}
}

// LockKey derives a stable positive 31-bit advisory lock key from a user id.
func LockKey(userID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int64(h.Sum32() & 0x7fffffff)
}

// Consolidate runs one consolidation pass for a user under the per-user
// advisory lock. Losing the lock race is a benign, expected condition: the
// other run is doing the work, so this one reports a no-op result rather
// than an error.
func (s *Service) Consolidate(ctx context.Context, userID string) (*types.ConsolidationResult, error) {
	release, acquired, err := s.locker.TryLock(ctx, LockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire consolidation lock: %w", err)
	}
	defer release()
	if !acquired {
		logger.Infof(ctx, "consolidation already running for user %s", userID)
		return &types.ConsolidationResult{
			UserID:  userID,
			Message: "Consolidation already in progress for this user.",
		}, nil
	}

	return s.consolidate(ctx, userID)
}

func (s *Service) consolidate(ctx context.Context, userID string) (*types.ConsolidationResult, error) {
	all, err := s.episodic.List(ctx, userID, s.cfg.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	before := len(all)

	// Already-consolidated memories are excluded so repeated passes do not
	// over-compress.
	raw := make([]types.EpisodicMemory, 0, len(all))
	for _, m := range all {
		if !strings.HasPrefix(m.Text, types.ConsolidatedPrefix) {
			raw = append(raw, m)
		}
	}

	if len(raw) <= s.cfg.Threshold {
		return &types.ConsolidationResult{
			UserID:         userID,
			MemoriesBefore: before,
			MemoriesAfter:  before,
			Message: fmt.Sprintf("No consolidation needed (%d raw memories <= threshold %d).",
				len(raw), s.cfg.Threshold),
		}, nil
	}

	// Oldest first, so the earliest memories get merged before recent ones.
	sort.Slice(raw, func(i, j int) bool { return raw[i].CreatedAt < raw[j].CreatedAt })

	merged := 0
	for i := 0; i < len(raw); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(raw) {
			end = len(raw)
		}
		batch := raw[i:end]
		if len(batch) < 2 {
			break
		}
		if err := s.consolidateBatch(ctx, userID, batch); err != nil {
			logger.Errorf(ctx, "consolidation batch failed for user %s: %v", userID, err)
			continue
		}
		merged++
	}

	after := before
	if remaining, err := s.episodic.List(ctx, userID, s.cfg.ListLimit); err == nil {
		after = len(remaining)
	}

	return &types.ConsolidationResult{
		UserID:         userID,
		MemoriesBefore: before,
		MemoriesAfter:  after,
		BatchesMerged:  merged,
		Message:        fmt.Sprintf("Consolidated %d batches. %d -> %d memories.", merged, before, after),
	}, nil
}

// consolidateBatch merges one batch into a single consolidated memory. The
// consolidated record is written before the originals are deleted, so a
// failure can duplicate but never lose information.
func (s *Service) consolidateBatch(ctx context.Context, userID string, batch []types.EpisodicMemory) error {
	lines := make([]string, 0, len(batch))
	for _, m := range batch {
		lines = append(lines, "- "+m.Text)
	}

	resp, err := s.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: consolidationPrompt},
		{Role: types.RoleUser, Content: "Memories to consolidate:\n" + strings.Join(lines, "\n")},
	}, &chat.ChatOptions{Temperature: 0})
	if err != nil {
		return fmt.Errorf("batch summary failed: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("batch summary came back empty")
	}

	if _, err := s.episodic.Add(ctx, userID, types.ConsolidatedPrefix+summary); err != nil {
		return fmt.Errorf("failed to store consolidated memory: %w", err)
	}
	for _, m := range batch {
		if err := s.episodic.DeleteOne(ctx, m.ID); err != nil {
			return fmt.Errorf("failed to delete original %s: %w", m.ID, err)
		}
	}
	return nil
}

// Sweep consolidates recently active users. Users already being consolidated
// come back as no-op results and are skipped silently. It is the cron entry
// point; errors are logged, never propagated.
func (s *Service) Sweep(ctx context.Context) {
	users, err := s.sessions.DistinctUsers(ctx, s.cfg.SweepUsers)
	if err != nil {
		logger.Errorf(ctx, "consolidation sweep failed to list users: %v", err)
		return
	}

	for _, userID := range users {
		result, err := s.Consolidate(ctx, userID)
		switch {
		case err != nil:
			logger.Errorf(ctx, "sweep consolidation failed for user %s: %v", userID, err)
		case result.BatchesMerged > 0:
			logger.Infof(ctx, "sweep consolidated user %s: %s", userID, result.Message)
		}
	}
}
