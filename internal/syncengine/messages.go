package syncengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
	"chat-sync/internal/outbox"
)

type messageSnapshot struct {
	conv     model.Conversation
	messages []model.Message
}

func (e *Engine) captureMessages(conversationID string) messageSnapshot {
	return messageSnapshot{
		conv:     e.conversations[conversationID],
		messages: append([]model.Message(nil), e.messages[conversationID]...),
	}
}

func (e *Engine) restoreMessages(conversationID string, s messageSnapshot) {
	if _, ok := e.conversations[conversationID]; ok {
		e.conversations[conversationID] = s.conv
	}
	if len(s.messages) == 0 {
		delete(e.messages, conversationID)
		return
	}
	e.messages[conversationID] = s.messages
}

// SendMessage appends m to its conversation and sends it in the
// background. The first user message of an untitled conversation also
// queues title generation behind the send.
func (e *Engine) SendMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if !m.Role.Valid() {
		return model.Message{}, apperr.InvalidInput("invalid role")
	}
	conv, ok := e.Conversation(m.ConversationID)
	if !ok {
		return model.Message{}, apperr.NotFound("Conversation")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.stamp()
	}
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Millisecond)

	needsTitle := false
	err := applyOptimistic(ctx, e, mutation[messageSnapshot]{
		capture: func() messageSnapshot { return e.captureMessages(m.ConversationID) },
		apply: func() {
			if m.Role == model.RoleUser && conv.Title == model.DefaultTitle && !hasUserMessage(e.messages[m.ConversationID]) {
				needsTitle = true
			}
			e.messages[m.ConversationID] = append(e.messages[m.ConversationID], m)
			if c, ok := e.conversations[m.ConversationID]; ok {
				at := m.CreatedAt
				c.LastMessageAt = &at
				c.UpdatedAt = at
				e.conversations[m.ConversationID] = c
			}
		},
		restore: func(s messageSnapshot) { e.restoreMessages(m.ConversationID, s) },
		persist: func(ctx context.Context) error {
			_, err := e.local.CreateMessage(ctx, m)
			return err
		},
	})
	if err != nil {
		return model.Message{}, err
	}

	e.send(job{
		op:             outbox.OpCreateMessage,
		conversationID: m.ConversationID,
		targetID:       m.ID,
		payload:        m,
		run: func(ctx context.Context) error {
			_, err := e.remote.CreateMessage(ctx, m)
			return err
		},
	})
	if needsTitle {
		e.queueTitle(m.ConversationID)
	}
	return m, nil
}

func hasUserMessage(msgs []model.Message) bool {
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}

func findMessage(msgs []model.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) UpdateMessage(ctx context.Context, conversationID, id string, patch model.MessagePatch) error {
	e.mu.RLock()
	idx := findMessage(e.messages[conversationID], id)
	e.mu.RUnlock()
	if idx < 0 {
		return apperr.NotFound("Message")
	}

	err := applyOptimistic(ctx, e, mutation[messageSnapshot]{
		capture: func() messageSnapshot { return e.captureMessages(conversationID) },
		apply: func() {
			msgs := append([]model.Message(nil), e.messages[conversationID]...)
			if i := findMessage(msgs, id); i >= 0 {
				patch.ApplyTo(&msgs[i])
				e.messages[conversationID] = msgs
			}
		},
		restore: func(s messageSnapshot) { e.restoreMessages(conversationID, s) },
		persist: func(ctx context.Context) error {
			_, err := e.local.UpdateMessage(ctx, id, patch)
			return err
		},
	})
	if err != nil {
		return err
	}

	e.send(job{
		op:             outbox.OpUpdateMessage,
		conversationID: conversationID,
		targetID:       id,
		payload:        patch,
		run: func(ctx context.Context) error {
			_, err := e.remote.UpdateMessage(ctx, id, patch)
			return err
		},
	})
	return nil
}

func (e *Engine) DeleteMessage(ctx context.Context, conversationID, id string) error {
	e.mu.RLock()
	idx := findMessage(e.messages[conversationID], id)
	e.mu.RUnlock()
	if idx < 0 {
		return apperr.NotFound("Message")
	}

	err := applyOptimistic(ctx, e, mutation[messageSnapshot]{
		capture: func() messageSnapshot { return e.captureMessages(conversationID) },
		apply: func() {
			msgs := e.messages[conversationID]
			if i := findMessage(msgs, id); i >= 0 {
				out := make([]model.Message, 0, len(msgs)-1)
				out = append(out, msgs[:i]...)
				e.messages[conversationID] = append(out, msgs[i+1:]...)
			}
		},
		restore: func(s messageSnapshot) { e.restoreMessages(conversationID, s) },
		persist: func(ctx context.Context) error {
			return e.local.DeleteMessage(ctx, id)
		},
	})
	if err != nil {
		return err
	}

	e.send(job{
		op:             outbox.OpDeleteMessage,
		conversationID: conversationID,
		targetID:       id,
		run: func(ctx context.Context) error {
			return e.remote.DeleteMessage(ctx, id)
		},
	})
	return nil
}

// LoadMessages reads a conversation's messages from the local store, then
// replaces them with the server's list when the server answers. The local
// list is returned when the server cannot be reached.
func (e *Engine) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	local, err := e.local.GetMessagesByConversation(ctx, conversationID)
	if err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
		e.log.Warn("local messages unreadable", "conversation", conversationID, "err", err)
	}
	if len(local) > 0 {
		e.mu.Lock()
		e.messages[conversationID] = local
		e.mu.Unlock()
	}
	if e.remote == nil {
		return e.Messages(conversationID), nil
	}

	e.Wait()
	server, err := e.remote.ListMessages(ctx, conversationID)
	if err != nil {
		e.log.Debug("server messages unavailable", "conversation", conversationID, "err", err)
		return e.Messages(conversationID), nil
	}
	if e.hasPending(conversationID) {
		return e.Messages(conversationID), nil
	}

	e.mu.Lock()
	e.messages[conversationID] = server
	e.mu.Unlock()
	if err := e.local.ReplaceMessages(ctx, conversationID, server); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
		e.log.Warn("local message replace failed", "conversation", conversationID, "err", err)
	}
	return e.Messages(conversationID), nil
}

// hasPending reports whether the outbox holds writes for conversationID.
func (e *Engine) hasPending(conversationID string) bool {
	if e.outbox == nil {
		return false
	}
	pending, err := e.outbox.PendingConversations()
	if err != nil {
		return false
	}
	_, ok := pending[conversationID]
	return ok
}
