package syncengine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
	"chat-sync/internal/outbox"
)

type projectSnapshot struct {
	project model.Project
	existed bool
	links   []model.ConversationProject
}

func (e *Engine) captureProject(id string) projectSnapshot {
	p, ok := e.projects[id]
	s := projectSnapshot{project: p, existed: ok}
	for l := range e.links {
		if l.ProjectID == id {
			s.links = append(s.links, l)
		}
	}
	return s
}

func (e *Engine) restoreProject(id string, s projectSnapshot) {
	if s.existed {
		e.projects[id] = s.project
	} else {
		delete(e.projects, id)
	}
	for l := range e.links {
		if l.ProjectID == id {
			delete(e.links, l)
		}
	}
	for _, l := range s.links {
		e.links[l] = struct{}{}
	}
}

func (e *Engine) CreateProject(ctx context.Context, name string) (model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Project{}, apperr.InvalidInput("name is required")
	}
	at := e.stamp()
	p := model.Project{ID: uuid.NewString(), Name: name, CreatedAt: at, UpdatedAt: at}

	err := applyOptimistic(ctx, e, mutation[projectSnapshot]{
		capture: func() projectSnapshot { return e.captureProject(p.ID) },
		apply:   func() { e.projects[p.ID] = p },
		restore: func(s projectSnapshot) { e.restoreProject(p.ID, s) },
		persist: func(ctx context.Context) error {
			_, err := e.local.UpsertProject(ctx, p)
			return err
		},
	})
	if err != nil {
		return model.Project{}, err
	}

	e.send(job{
		op:       outbox.OpCreateProject,
		targetID: p.ID,
		payload:  p,
		run: func(ctx context.Context) error {
			_, err := e.remote.CreateProject(ctx, p)
			return err
		},
	})
	return p, nil
}

func (e *Engine) RenameProject(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.InvalidInput("name is required")
	}
	e.mu.RLock()
	_, ok := e.projects[id]
	e.mu.RUnlock()
	if !ok {
		return apperr.NotFound("Project")
	}
	at := e.stamp()

	err := applyOptimistic(ctx, e, mutation[projectSnapshot]{
		capture: func() projectSnapshot { return e.captureProject(id) },
		apply: func() {
			if p, ok := e.projects[id]; ok {
				p.Name = name
				p.UpdatedAt = at
				e.projects[id] = p
			}
		},
		restore: func(s projectSnapshot) { e.restoreProject(id, s) },
		persist: func(ctx context.Context) error {
			_, err := e.local.UpdateProject(ctx, id, name)
			return err
		},
	})
	if err != nil {
		return err
	}

	e.send(job{
		op:       outbox.OpRenameProject,
		targetID: id,
		payload:  model.Project{ID: id, Name: name},
		run: func(ctx context.Context) error {
			_, err := e.remote.RenameProject(ctx, id, name)
			return err
		},
	})
	return nil
}

func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	e.mu.RLock()
	_, ok := e.projects[id]
	e.mu.RUnlock()
	if !ok {
		return apperr.NotFound("Project")
	}

	err := applyOptimistic(ctx, e, mutation[projectSnapshot]{
		capture: func() projectSnapshot { return e.captureProject(id) },
		apply: func() {
			delete(e.projects, id)
			for l := range e.links {
				if l.ProjectID == id {
					delete(e.links, l)
				}
			}
		},
		restore: func(s projectSnapshot) { e.restoreProject(id, s) },
		persist: func(ctx context.Context) error {
			return e.local.DeleteProject(ctx, id)
		},
	})
	if err != nil {
		return err
	}

	e.send(job{
		op:       outbox.OpDeleteProject,
		targetID: id,
		run: func(ctx context.Context) error {
			return e.remote.DeleteProject(ctx, id)
		},
	})
	return nil
}

// AddToProject links a conversation to a project.
func (e *Engine) AddToProject(ctx context.Context, conversationID, projectID string) error {
	return e.setLink(ctx, model.ConversationProject{ConversationID: conversationID, ProjectID: projectID}, true)
}

func (e *Engine) RemoveFromProject(ctx context.Context, conversationID, projectID string) error {
	return e.setLink(ctx, model.ConversationProject{ConversationID: conversationID, ProjectID: projectID}, false)
}

func (e *Engine) setLink(ctx context.Context, l model.ConversationProject, linked bool) error {
	e.mu.RLock()
	_, convOK := e.conversations[l.ConversationID]
	_, projOK := e.projects[l.ProjectID]
	e.mu.RUnlock()
	if !convOK {
		return apperr.NotFound("Conversation")
	}
	if !projOK {
		return apperr.NotFound("Project")
	}

	err := applyOptimistic(ctx, e, mutation[bool]{
		capture: func() bool {
			_, ok := e.links[l]
			return ok
		},
		apply: func() {
			if linked {
				e.links[l] = struct{}{}
			} else {
				delete(e.links, l)
			}
		},
		restore: func(was bool) {
			if was {
				e.links[l] = struct{}{}
			} else {
				delete(e.links, l)
			}
		},
		persist: func(ctx context.Context) error {
			if linked {
				return e.local.AddConversationToProject(ctx, l.ConversationID, l.ProjectID)
			}
			return e.local.RemoveConversationFromProject(ctx, l.ConversationID, l.ProjectID)
		},
	})
	if err != nil {
		return err
	}

	op := outbox.OpLinkProject
	if !linked {
		op = outbox.OpUnlinkProject
	}
	e.send(job{
		op:             op,
		conversationID: l.ConversationID,
		targetID:       l.ProjectID,
		run: func(ctx context.Context) error {
			if linked {
				return e.remote.LinkConversation(ctx, l.ProjectID, l.ConversationID)
			}
			return e.remote.UnlinkConversation(ctx, l.ProjectID, l.ConversationID)
		},
	})
	return nil
}
