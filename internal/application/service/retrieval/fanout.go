// Package retrieval fans a query out to the three memory layers and merges
// the results into one prompt-ready context blob.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

// Placeholders injected when a memory layer is empty or failing. The agent
// keeps answering either way; degraded context beats a failed request.
const (
	noSession           = "(no active session)"
	noEpisodic          = "(no episodic memories)"
	noSemantic          = "(no semantic facts)"
	threadUnavailable   = "(thread context unavailable)"
	episodicUnavailable = "(episodic memory unavailable)"
	semanticUnavailable = "(semantic memory unavailable)"
	semanticRenderedCap = 10
)

// Options bound a single fan-out.
type Options struct {
	EpisodicTopK int
	ThreadLastN  int
	MaxKeywords  int
}

type Service struct {
	sessions interfaces.SessionService
	episodic interfaces.EpisodicStore
	semantic interfaces.SemanticStore
	pool     *runtime.WorkerPool
	opts     Options
}

func NewService(sessions interfaces.SessionService, episodic interfaces.EpisodicStore, semantic interfaces.SemanticStore, pool *runtime.WorkerPool, opts Options) *Service {
	return &Service{
		sessions: sessions,
		episodic: episodic,
		semantic: semantic,
		pool:     pool,
		opts:     opts,
	}
}

// Fetch runs the three retrievals in parallel on the shared pool. The caller
// bounds the whole fan-out with a context deadline; expiry surfaces
// types.ErrRetrievalTimeout. A single failing layer degrades to its
// placeholder and never fails the fetch.
func (s *Service) Fetch(ctx context.Context, userID, sessionID, query string) (*types.MemoryContext, error) {
	mc := &types.MemoryContext{}

	var wg sync.WaitGroup
	run := func(task func()) {
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			task()
		}); err != nil {
			// Pool saturated or released; run inline rather than drop.
			task()
			wg.Done()
		}
	}

	run(func() { mc.ThreadContext = s.fetchThread(ctx, sessionID) })
	run(func() { mc.Episodic = s.fetchEpisodic(ctx, userID, query) })
	run(func() { mc.Semantic = s.fetchSemantic(ctx, userID, query) })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrRetrievalTimeout, ctx.Err())
	}

	mc.Combined = fmt.Sprintf(
		"=== Current Thread Context ===\n%s\n\n"+
			"=== Relevant Past Conversations (Episodic Memory) ===\n%s\n\n"+
			"=== Known Facts about User (Semantic Memory) ===\n%s",
		mc.ThreadContext, mc.Episodic, mc.Semantic,
	)
	return mc, nil
}

func (s *Service) fetchThread(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return noSession
	}
	// The session service folds the rolling summary into the rendered thread,
	// so one call (and one session load) covers both.
	text, err := s.sessions.ThreadContextText(ctx, sessionID, s.opts.ThreadLastN)
	if err != nil {
		logger.Warnf(ctx, "thread context fetch failed for session %s: %v", sessionID, err)
		return threadUnavailable
	}
	if text == "" {
		return noSession
	}
	return text
}

func (s *Service) fetchEpisodic(ctx context.Context, userID, query string) string {
	memories, err := s.episodic.Search(ctx, userID, query, s.opts.EpisodicTopK)
	if err != nil {
		logger.Warnf(ctx, "episodic search failed for user %s: %v", userID, err)
		return episodicUnavailable
	}
	if len(memories) == 0 {
		return noEpisodic
	}

	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, "- "+m.Text)
	}
	return strings.Join(lines, "\n")
}

func (s *Service) fetchSemantic(ctx context.Context, userID, query string) string {
	facts, err := s.semantic.Search(ctx, userID, Keywords(query, s.opts.MaxKeywords))
	if err != nil {
		logger.Warnf(ctx, "semantic search failed for user %s: %v", userID, err)
		return semanticUnavailable
	}
	if len(facts) == 0 {
		return noSemantic
	}
	if len(facts) > semanticRenderedCap {
		facts = facts[:semanticRenderedCap]
	}

	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- (%s [%s]) -[%s]-> (%s [%s])",
			f.Source.ID, f.Source.Type, f.Relationship, f.Target.ID, f.Target.Type))
	}
	return strings.Join(lines, "\n")
}

// Keywords extracts search terms from a query: whitespace tokens longer than
// 3 runes, capped at max.
func Keywords(query string, max int) []string {
	var keywords []string
	for _, token := range strings.Fields(query) {
		if len([]rune(token)) > 3 {
			keywords = append(keywords, token)
			if len(keywords) == max {
				break
			}
		}
	}
	return keywords
}
