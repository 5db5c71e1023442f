package syncengine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
	"chat-sync/internal/outbox"
)

type conversationSnapshot struct {
	conv    model.Conversation
	existed bool
}

// CreateConversation stores c locally and waits for the server to accept
// it, since messages sent next need it to exist there. When the server
// call fails the local row stays and the returned error has kind
// UpstreamUnavailable.
func (e *Engine) CreateConversation(ctx context.Context, c model.Conversation) (model.Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = model.DefaultTitle
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.stamp()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if existing, ok := e.Conversation(c.ID); ok {
		return existing, nil
	}

	err := applyOptimistic(ctx, e, mutation[conversationSnapshot]{
		capture: func() conversationSnapshot {
			prev, ok := e.conversations[c.ID]
			return conversationSnapshot{conv: prev, existed: ok}
		},
		apply: func() { e.conversations[c.ID] = c },
		restore: func(s conversationSnapshot) {
			if s.existed {
				e.conversations[c.ID] = s.conv
			} else {
				delete(e.conversations, c.ID)
			}
		},
		persist: func(ctx context.Context) error {
			_, err := e.local.CreateConversation(ctx, c)
			return err
		},
	})
	if err != nil {
		return model.Conversation{}, err
	}

	if e.remote == nil {
		return c, apperr.New(apperr.KindUpstreamUnavailable, "no server configured")
	}
	stored, err := e.remote.CreateConversation(ctx, c)
	if err != nil {
		e.log.Warn("conversation not saved to server", "id", c.ID, "err", err)
		if !permanent(err) {
			e.park(job{op: outbox.OpCreateConversation, conversationID: c.ID, targetID: c.ID, payload: c}, err)
		}
		return c, apperr.Wrap(apperr.KindUpstreamUnavailable, "conversation saved locally only", err)
	}

	merged := e.acceptServerConversation(ctx, stored)
	return merged, nil
}

// acceptServerConversation merges a server row into memory and the local
// store.
func (e *Engine) acceptServerConversation(ctx context.Context, server model.Conversation) model.Conversation {
	e.mu.Lock()
	local, ok := e.conversations[server.ID]
	merged := mergeConversation(local, ok, server)
	e.conversations[server.ID] = merged
	e.mu.Unlock()

	if _, err := e.local.UpsertConversation(ctx, merged); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
		e.log.Warn("local upsert failed", "id", server.ID, "err", err)
	}
	return merged
}

// UpdateConversation applies patch locally and sends it in the background.
func (e *Engine) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	patch.Revision = nil
	if patch.Empty() {
		return apperr.InvalidInput("nothing to update")
	}
	if _, ok := e.Conversation(id); !ok {
		return apperr.NotFound("Conversation")
	}
	at := e.stamp()
	localPatch := patch
	localPatch.UpdatedAt = &at

	err := applyOptimistic(ctx, e, mutation[conversationSnapshot]{
		capture: func() conversationSnapshot {
			prev, ok := e.conversations[id]
			return conversationSnapshot{conv: prev, existed: ok}
		},
		apply: func() {
			c, ok := e.conversations[id]
			if !ok {
				return
			}
			localPatch.ApplyTo(&c)
			e.conversations[id] = c
		},
		restore: func(s conversationSnapshot) {
			if s.existed {
				e.conversations[id] = s.conv
			}
		},
		persist: func(ctx context.Context) error {
			_, err := e.local.UpdateConversation(ctx, id, localPatch)
			return err
		},
	})
	if err != nil {
		return err
	}

	serverPatch := patch
	serverPatch.UpdatedAt = nil
	e.send(job{
		op:             outbox.OpUpdateConversation,
		conversationID: id,
		targetID:       id,
		payload:        serverPatch,
		run: func(ctx context.Context) error {
			_, err := e.remote.UpdateConversation(ctx, id, serverPatch)
			return err
		},
	})
	return nil
}

func (e *Engine) SetStarred(ctx context.Context, id string, starred bool) error {
	return e.UpdateConversation(ctx, id, model.ConversationPatch{Starred: &starred})
}

func (e *Engine) SetArchived(ctx context.Context, id string, archived bool) error {
	return e.UpdateConversation(ctx, id, model.ConversationPatch{Archived: &archived})
}

func (e *Engine) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.InvalidInput("title is required")
	}
	return e.UpdateConversation(ctx, id, model.ConversationPatch{Title: &title})
}

type deleteSnapshot struct {
	conv     model.Conversation
	existed  bool
	messages []model.Message
	links    []model.ConversationProject
}

// DeleteConversation removes the conversation with its messages and links
// and sends the delete in the background.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	if _, ok := e.Conversation(id); !ok {
		return apperr.NotFound("Conversation")
	}
	err := applyOptimistic(ctx, e, mutation[deleteSnapshot]{
		capture: func() deleteSnapshot {
			c, ok := e.conversations[id]
			s := deleteSnapshot{conv: c, existed: ok, messages: e.messages[id]}
			for l := range e.links {
				if l.ConversationID == id {
					s.links = append(s.links, l)
				}
			}
			return s
		},
		apply: func() { e.dropConversationLocked(id) },
		restore: func(s deleteSnapshot) {
			if s.existed {
				e.conversations[id] = s.conv
			}
			if s.messages != nil {
				e.messages[id] = s.messages
			}
			for _, l := range s.links {
				e.links[l] = struct{}{}
			}
		},
		persist: func(ctx context.Context) error {
			return e.local.DeleteConversation(ctx, id)
		},
	})
	if err != nil {
		return err
	}

	e.send(job{
		op:             outbox.OpDeleteConversation,
		conversationID: id,
		targetID:       id,
		run: func(ctx context.Context) error {
			return e.remote.DeleteConversation(ctx, id)
		},
	})
	return nil
}

// dropConversationLocked removes id and everything hanging off it from
// memory. The caller holds e.mu.
func (e *Engine) dropConversationLocked(id string) {
	delete(e.conversations, id)
	delete(e.messages, id)
	delete(e.titleLoading, id)
	for l := range e.links {
		if l.ConversationID == id {
			delete(e.links, l)
		}
	}
}
