package localstore

import (
	"context"

	"golang.org/x/sync/errgroup"

	"chat-sync/internal/model"
)

// Snapshot is everything the client needs to render before the network
// answers.
type Snapshot struct {
	Conversations []model.Conversation
	Projects      []model.Project
	Links         []model.ConversationProject
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Conversations: []model.Conversation{},
		Projects:      []model.Project{},
		Links:         []model.ConversationProject{},
	}
}

// Hydrate reads conversations, projects and links in parallel. Any failure,
// including unavailable storage, yields an empty snapshot and the error for
// logging; callers proceed with the snapshot either way.
func (s *Store) Hydrate(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Conversations, err = s.GetAllConversations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Projects, err = s.GetAllProjects(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Links, err = s.GetAllLinks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return emptySnapshot(), err
	}
	return snap, nil
}
