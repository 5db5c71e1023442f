package service

import (
	"context"

	"chat-sync/internal/cache"
	"chat-sync/internal/model"
)

// SharedView is the public, session-less view behind a share link.
type SharedView struct {
	Share        model.SharedItem   `json:"share"`
	Conversation model.Conversation `json:"conversation"`
	Messages     []model.Message    `json:"messages"`
}

func (s *Service) ListShares(ctx context.Context, userID string) ([]model.SharedItem, error) {
	return cache.ReadThrough(ctx, s.cache, cache.SharedKey(userID), cache.SharedTTL,
		func(ctx context.Context) ([]model.SharedItem, error) {
			return s.store.ListShares(ctx, userID)
		})
}

func (s *Service) CreateShare(ctx context.Context, userID, conversationID string) (model.SharedItem, error) {
	sh, err := s.store.CreateShare(ctx, model.SharedItem{
		UserID:         userID,
		ConversationID: conversationID,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return model.SharedItem{}, err
	}
	s.mutated(ctx, cache.ShareCreated, cache.Scope{UserID: userID, ConversationID: conversationID})
	return sh, nil
}

func (s *Service) DeleteShare(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteShare(ctx, userID, id); err != nil {
		return err
	}
	s.mutated(ctx, cache.ShareDeleted, cache.Scope{UserID: userID})
	return nil
}

func (s *Service) SharedConversation(ctx context.Context, shareID string) (SharedView, error) {
	sh, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return SharedView{}, err
	}
	c, err := s.store.GetConversation(ctx, sh.UserID, sh.ConversationID)
	if err != nil {
		return SharedView{}, err
	}
	msgs, err := s.store.ListMessages(ctx, sh.UserID, sh.ConversationID)
	if err != nil {
		return SharedView{}, err
	}
	return SharedView{Share: sh, Conversation: c.Summary(), Messages: msgs}, nil
}
