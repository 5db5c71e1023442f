package syncengine

import (
	"context"
	"strings"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

func (e *Engine) markTitleLoading(id string) {
	e.mu.Lock()
	e.titleLoading[id] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) clearTitleLoading(id string) {
	e.mu.Lock()
	delete(e.titleLoading, id)
	e.mu.Unlock()
}

// queueTitle marks id as loading now and generates the title after the
// writes queued before it have reached the server.
func (e *Engine) queueTitle(id string) {
	e.markTitleLoading(id)
	j := job{run: func(ctx context.Context) error {
		_ = e.generateTitle(ctx, id)
		return nil
	}}
	if e.remote == nil || !e.writer.submit(j) {
		e.clearTitleLoading(id)
	}
}

// GenerateTitle asks the server for a title now. On failure the current
// title stays.
func (e *Engine) GenerateTitle(ctx context.Context, id string) error {
	if _, ok := e.Conversation(id); !ok {
		return apperr.NotFound("Conversation")
	}
	if e.remote == nil {
		return apperr.New(apperr.KindUpstreamUnavailable, "no server configured")
	}
	e.markTitleLoading(id)
	return e.generateTitle(ctx, id)
}

func (e *Engine) generateTitle(ctx context.Context, id string) error {
	defer e.clearTitleLoading(id)

	title, err := e.remote.GenerateTitle(ctx, id)
	if err != nil {
		e.log.Warn("title generation failed", "conversation", id, "err", err)
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" || title == model.DefaultTitle {
		return nil
	}

	e.mu.Lock()
	c, ok := e.conversations[id]
	if ok {
		c.Title = title
		e.conversations[id] = c
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := e.local.UpdateConversation(ctx, id, model.ConversationPatch{Title: &title}); err != nil &&
		!apperr.Is(err, apperr.KindStorageUnavailable) {
		e.log.Warn("local title update failed", "conversation", id, "err", err)
	}
	return nil
}

// SuggestFollowups returns suggested next prompts for a conversation. It
// never fails: an unreachable server yields an empty list.
func (e *Engine) SuggestFollowups(ctx context.Context, id string) []string {
	if e.remote == nil {
		return []string{}
	}
	out, err := e.remote.SuggestFollowups(ctx, id)
	if err != nil || out == nil {
		if err != nil {
			e.log.Debug("followups unavailable", "conversation", id, "err", err)
		}
		return []string{}
	}
	return out
}
