package service

import (
	"context"
	"strings"

	"chat-sync/internal/ai"
	"chat-sync/internal/apperr"
	"chat-sync/internal/cache"
	"chat-sync/internal/model"
)

// GenerateTitle asks the AI collaborator for a title and stores it. When the
// collaborator fails or only offers the default title, the stored
// conversation is returned unchanged and no version is published.
func (s *Service) GenerateTitle(ctx context.Context, userID, conversationID string) (model.Conversation, error) {
	stored, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	msgs, err := s.store.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	title, err := s.ai.GenerateTitle(ctx, msgs)
	title = strings.TrimSpace(title)
	if err != nil || title == "" || title == model.DefaultTitle {
		if err != nil {
			s.log.Warn("title generation failed", "conversation", conversationID, "err", err)
		}
		return stored, nil
	}

	c, err := s.store.UpdateConversation(ctx, userID, conversationID, model.ConversationPatch{Title: &title})
	if err != nil {
		return model.Conversation{}, err
	}
	s.mutated(ctx, cache.TitleGenerated, cache.Scope{UserID: userID, ConversationID: conversationID})
	return c, nil
}

// FollowupRequest names a stored conversation or carries an inline
// transcript.
type FollowupRequest struct {
	ConversationID string          `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
}

func (s *Service) SuggestFollowups(ctx context.Context, userID string, req FollowupRequest) ([]string, error) {
	transcript := req.Messages
	if req.ConversationID != "" {
		msgs, err := s.store.ListMessages(ctx, userID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		transcript = msgs
	}
	if len(transcript) == 0 {
		return nil, apperr.InvalidInput("conversationId or messages required")
	}
	out, err := s.ai.SuggestFollowups(ctx, transcript)
	if err != nil || out == nil {
		return []string{}, nil
	}
	if len(out) > ai.MaxFollowups {
		out = out[:ai.MaxFollowups]
	}
	return out, nil
}
