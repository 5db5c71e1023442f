package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/apperr"
	"chat-sync/internal/cache"
	"chat-sync/internal/model"
)

// Branch copies a conversation up to and including an assistant message
// into a new conversation. Copied messages get fresh ids and timestamps one
// second apart starting now, so their order survives any clock skew in the
// source.
func (s *Service) Branch(ctx context.Context, userID, conversationID, messageID string) (model.Conversation, error) {
	source, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	msgs, err := s.store.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}

	pivot := -1
	for i, m := range msgs {
		if m.ID == messageID {
			pivot = i
			break
		}
	}
	if pivot < 0 {
		return model.Conversation{}, apperr.NotFound("Message")
	}
	if msgs[pivot].Role != model.RoleAssistant {
		return model.Conversation{}, apperr.InvalidState("can only branch from an assistant message")
	}
	copied := msgs[:pivot+1]
	if len(copied) == 0 {
		return model.Conversation{}, apperr.InvalidState("nothing to branch")
	}

	base := s.now().UTC().Truncate(time.Second)
	branch := model.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     source.Title,
		ModelID:   source.ModelID,
		CreatedAt: base,
	}
	out := make([]model.Message, len(copied))
	for i, m := range copied {
		out[i] = model.Message{
			ID:             uuid.NewString(),
			ConversationID: branch.ID,
			Role:           m.Role,
			Content:        m.Content,
			MetaJSON:       m.MetaJSON,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
	}
	last := out[len(out)-1].CreatedAt
	branch.LastMessageAt = &last
	branch.UpdatedAt = last

	created, err := s.store.InsertBranch(ctx, branch, out)
	if err != nil {
		return model.Conversation{}, err
	}
	s.mutated(ctx, cache.ConversationCreated, cache.Scope{UserID: userID, ConversationID: created.ID})
	return created, nil
}
