package service

import (
	"context"
	"strings"

	"chat-sync/internal/apperr"
	"chat-sync/internal/cache"
	"chat-sync/internal/model"
)

func (s *Service) ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error) {
	return cache.ReadThrough(ctx, s.cache, cache.ProjectsKey(userID), cache.ProjectsTTL,
		func(ctx context.Context) ([]model.ProjectSummary, error) {
			return s.store.ListProjects(ctx, userID)
		})
}

// ProjectMapping is every conversation-project link the user has, used by
// clients to group conversations in the sidebar.
func (s *Service) ProjectMapping(ctx context.Context, userID string) ([]model.ConversationProject, error) {
	return cache.ReadThrough(ctx, s.cache, cache.ProjectMetaKey(userID), cache.ProjectMetaTTL,
		func(ctx context.Context) ([]model.ConversationProject, error) {
			return s.store.ProjectMapping(ctx, userID)
		})
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.InvalidInput("name is required")
	}
	return name, nil
}

func (s *Service) CreateProject(ctx context.Context, userID string, p model.Project) (model.Project, error) {
	name, err := cleanName(p.Name)
	if err != nil {
		return model.Project{}, err
	}
	p.Name = name
	p.UserID = userID
	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return model.Project{}, err
	}
	s.mutated(ctx, cache.ProjectCreated, cache.Scope{UserID: userID})
	return created, nil
}

func (s *Service) RenameProject(ctx context.Context, userID, id, name string) (model.Project, error) {
	name, err := cleanName(name)
	if err != nil {
		return model.Project{}, err
	}
	p, err := s.store.RenameProject(ctx, userID, id, name)
	if err != nil {
		return model.Project{}, err
	}
	s.mutated(ctx, cache.ProjectRenamed, cache.Scope{UserID: userID})
	return p, nil
}

func (s *Service) DeleteProject(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteProject(ctx, userID, id); err != nil {
		return err
	}
	s.mutated(ctx, cache.ProjectDeleted, cache.Scope{UserID: userID})
	return nil
}

func (s *Service) LinkConversation(ctx context.Context, userID, projectID, conversationID string) error {
	if err := s.store.AddConversationToProject(ctx, userID, conversationID, projectID); err != nil {
		return err
	}
	s.mutated(ctx, cache.ProjectLinked, cache.Scope{UserID: userID, ConversationID: conversationID})
	return nil
}

func (s *Service) UnlinkConversation(ctx context.Context, userID, projectID, conversationID string) error {
	if err := s.store.RemoveConversationFromProject(ctx, userID, conversationID, projectID); err != nil {
		return err
	}
	s.mutated(ctx, cache.ProjectUnlinked, cache.Scope{UserID: userID, ConversationID: conversationID})
	return nil
}

func (s *Service) ProjectsForConversation(ctx context.Context, userID, conversationID string) ([]model.Project, error) {
	return s.store.ProjectsForConversation(ctx, userID, conversationID)
}
