package syncengine

import (
	"context"
	"time"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

// Hydrate loads local data into memory, marks the engine hydrated, then
// reconciles with the server. Ready is closed before any network call; the
// returned error is only the reconcile's.
func (e *Engine) Hydrate(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(Uninitialized), int32(Hydrating)) {
		return nil
	}

	snap, err := e.local.Hydrate(ctx)
	if err != nil {
		e.log.Debug("starting without local data", "err", err)
	}
	e.mu.Lock()
	for _, c := range snap.Conversations {
		e.conversations[c.ID] = c
	}
	for _, p := range snap.Projects {
		e.projects[p.ID] = p
	}
	for _, l := range snap.Links {
		e.links[l] = struct{}{}
	}
	e.mu.Unlock()
	e.markHydrated()

	return e.syncNow(ctx)
}

// syncNow reads the version before resyncing, so a write that lands during
// the resync still shows up as a change on the next poll.
func (e *Engine) syncNow(ctx context.Context) error {
	if e.remote == nil {
		return nil
	}
	var (
		version int64
		verr    error
	)
	if e.feed != nil {
		version, verr = e.feed.CurrentVersion(ctx)
	}
	if err := e.Resync(ctx); err != nil {
		return err
	}
	if e.feed != nil && verr == nil {
		e.setVersion(version)
	}
	return nil
}

// mergeConversation takes the server's shared fields over local ones and
// keeps what only this device knows.
func mergeConversation(local model.Conversation, haveLocal bool, server model.Conversation) model.Conversation {
	if !haveLocal {
		return server
	}
	out := local
	out.Title = server.Title
	out.LastMessageAt = server.LastMessageAt
	out.Starred = server.Starred
	out.Archived = server.Archived
	out.IsPublic = server.IsPublic
	out.Revision = server.Revision
	if !server.UpdatedAt.IsZero() {
		out.UpdatedAt = server.UpdatedAt
	}
	if server.ModelID != nil {
		out.ModelID = server.ModelID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = server.CreatedAt
	}
	return out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameConversation(a, b model.Conversation) bool {
	sameModel := (a.ModelID == nil && b.ModelID == nil) ||
		(a.ModelID != nil && b.ModelID != nil && *a.ModelID == *b.ModelID)
	return a.ID == b.ID && a.Title == b.Title && sameModel && a.Starred == b.Starred &&
		a.Archived == b.Archived && a.IsPublic == b.IsPublic && a.Revision == b.Revision &&
		a.CreatedAt.Equal(b.CreatedAt) && a.UpdatedAt.Equal(b.UpdatedAt) &&
		sameTime(a.LastMessageAt, b.LastMessageAt)
}

// Resync replays the outbox, then refetches every conversation and project
// and converges memory and the local store on the server's set.
// Conversations with writes still queued are left as they are locally, as
// are local conversations the server has never acknowledged.
func (e *Engine) Resync(ctx context.Context) error {
	if e.remote == nil {
		return apperr.New(apperr.KindUpstreamUnavailable, "no server configured")
	}
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.Wait()
	e.replayOutbox(ctx)

	listedAt := e.stamp()
	server, err := e.remote.ListConversations(ctx)
	if err != nil {
		return err
	}
	pending := e.pendingConversations()

	seen := make(map[string]struct{}, len(server))
	var upserts []model.Conversation
	e.mu.Lock()
	for _, sc := range server {
		seen[sc.ID] = struct{}{}
		if _, ok := pending[sc.ID]; ok {
			continue
		}
		local, ok := e.conversations[sc.ID]
		merged := mergeConversation(local, ok, sc)
		if !ok || !sameConversation(merged, local) {
			e.conversations[sc.ID] = merged
			upserts = append(upserts, merged)
		}
	}
	var tombstones []string
	for id := range e.conversations {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, ok := pending[id]; ok {
			continue
		}
		local := e.conversations[id]
		// never acknowledged by the server, so nothing was deleted there
		if local.Revision == 0 {
			continue
		}
		// created here after the listing was taken
		if local.CreatedAt.After(listedAt) {
			continue
		}
		tombstones = append(tombstones, id)
		e.dropConversationLocked(id)
	}
	e.mu.Unlock()

	for _, c := range upserts {
		if _, err := e.local.UpsertConversation(ctx, c); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
			e.log.Warn("local upsert failed", "id", c.ID, "err", err)
		}
	}
	for _, id := range tombstones {
		if err := e.local.DeleteConversation(ctx, id); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
			e.log.Warn("local delete failed", "id", id, "err", err)
		}
	}
	if len(upserts) > 0 || len(tombstones) > 0 {
		e.log.Debug("conversations resynced", "updated", len(upserts), "removed", len(tombstones))
	}

	return e.resyncProjects(ctx)
}

func (e *Engine) resyncProjects(ctx context.Context) error {
	summaries, err := e.remote.ListProjects(ctx)
	if err != nil {
		return err
	}
	mapping, err := e.remote.ProjectMapping(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(summaries))
	var removed []string
	e.mu.Lock()
	for _, s := range summaries {
		seen[s.ID] = struct{}{}
		e.projects[s.ID] = s.Project
	}
	for id := range e.projects {
		if _, ok := seen[id]; !ok {
			removed = append(removed, id)
			delete(e.projects, id)
		}
	}
	e.links = make(map[model.ConversationProject]struct{}, len(mapping))
	for _, l := range mapping {
		e.links[l] = struct{}{}
	}
	e.mu.Unlock()

	for _, s := range summaries {
		if _, err := e.local.UpsertProject(ctx, s.Project); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
			e.log.Warn("local project upsert failed", "id", s.ID, "err", err)
		}
	}
	for _, id := range removed {
		if err := e.local.DeleteProject(ctx, id); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
			e.log.Warn("local project delete failed", "id", id, "err", err)
		}
	}
	if err := e.local.ReplaceLinks(ctx, mapping); err != nil && !apperr.Is(err, apperr.KindStorageUnavailable) {
		e.log.Warn("local link replace failed", "err", err)
	}
	return nil
}

func (e *Engine) pendingConversations() map[string]struct{} {
	if e.outbox == nil {
		return nil
	}
	pending, err := e.outbox.PendingConversations()
	if err != nil {
		e.log.Warn("outbox unreadable", "err", err)
		return nil
	}
	return pending
}

// Poll checks the change feed and resyncs when the version differs from
// the last one seen. It reports whether a resync ran.
func (e *Engine) Poll(ctx context.Context) (bool, error) {
	if e.feed == nil {
		return false, nil
	}
	v, err := e.feed.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	if last, ok := e.LastVersion(); ok && last == v {
		return false, nil
	}
	if err := e.Resync(ctx); err != nil {
		return false, err
	}
	e.setVersion(v)
	return true, nil
}

// Run polls every interval until ctx is done. Feeds that implement
// Notifier also wake it early.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var changed <-chan struct{}
	if n, ok := e.feed.(Notifier); ok {
		changed = n.Changed()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-changed:
		}
		if _, err := e.Poll(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("sync poll failed", "err", err)
		}
	}
}
