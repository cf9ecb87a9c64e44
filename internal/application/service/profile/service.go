// Package profile synthesizes a readable user profile from the semantic
// graph. The graph is the source of truth; the LLM only organizes it.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
	"github.com/hanachan/kioku/internal/utils"
)

const profilePrompt = `You organize raw knowledge-graph facts about a user into a profile. Group the facts into the user's name, preferences, goals, interests, and other notable facts. Only use what the facts support; leave categories empty rather than inventing.`

// profileShape is the structured-output contract for the synthesis call.
type profileShape struct {
	Name        string   `json:"name"`
	Preferences []string `json:"preferences"`
	Goals       []string `json:"goals"`
	Interests   []string `json:"interests"`
	Facts       []string `json:"facts"`
}

type Service struct {
	semantic  interfaces.SemanticStore
	chatModel chat.Chat
}

func NewService(semantic interfaces.SemanticStore, chatModel chat.Chat) *Service {
	return &Service{semantic: semantic, chatModel: chatModel}
}

// Profile builds the user's profile from their graph edges. When synthesis
// fails the raw triples still come back; an empty graph yields an empty
// profile, not an error.
func (s *Service) Profile(ctx context.Context, userID string) (*types.UserProfile, error) {
	facts, err := s.semantic.Inspect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect graph: %w", err)
	}

	profile := &types.UserProfile{
		UserID:     userID,
		RawTriples: facts,
	}
	if len(facts) == 0 {
		return profile, nil
	}

	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- %s -[%s]-> %s", f.Source.ID, f.Relationship, f.Target.ID))
	}

	resp, err := s.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: profilePrompt},
		{Role: types.RoleUser, Content: strings.Join(lines, "\n")},
	}, &chat.ChatOptions{
		Temperature: 0,
		Format:      utils.GenerateSchema[profileShape](),
		FormatName:  "user_profile",
	})
	if err != nil {
		logger.Warnf(ctx, "profile synthesis failed for user %s, returning raw triples: %v", userID, err)
		return profile, nil
	}

	var shape profileShape
	if err := json.Unmarshal([]byte(resp.Content), &shape); err != nil {
		logger.Warnf(ctx, "profile synthesis returned invalid payload for user %s: %v", userID, err)
		return profile, nil
	}

	profile.Name = shape.Name
	profile.Preferences = shape.Preferences
	profile.Goals = shape.Goals
	profile.Interests = shape.Interests
	profile.Facts = shape.Facts
	return profile, nil
}
