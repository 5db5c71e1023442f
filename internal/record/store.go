// Package record is the server's system of record for conversations,
// messages, projects and shares. Every read and write is scoped by user id.
package record

import (
	"context"
	"time"

	"chat-sync/internal/model"
)

// Store is implemented by MemoryStore and PostgresStore. Missing rows are
// reported as apperr.NotFound.
type Store interface {
	// InsertConversation inserts c unless a row with the same id exists; the
	// stored row is returned either way.
	InsertConversation(ctx context.Context, c model.Conversation) (model.Conversation, bool, error)
	GetConversation(ctx context.Context, userID, id string) (model.Conversation, error)
	// UpdateConversation changes only the fields present in patch and bumps
	// the revision.
	UpdateConversation(ctx context.Context, userID, id string, patch model.ConversationPatch) (model.Conversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error
	ListConversations(ctx context.Context, userID string, q model.ListQuery) (model.ConversationPage, error)
	LatestRevision(ctx context.Context, userID string) (int64, error)

	// InsertMessage appends m to an existing conversation and advances the
	// conversation's lastMessageAt, updatedAt and revision. Re-inserting an
	// id that already exists returns the stored message unchanged.
	InsertMessage(ctx context.Context, userID string, m model.Message) (model.Message, bool, error)
	ListMessages(ctx context.Context, userID, conversationID string) ([]model.Message, error)
	FirstMessages(ctx context.Context, userID, conversationID string, n int) ([]model.Message, error)
	UpdateMessage(ctx context.Context, userID, id string, patch model.MessagePatch) (model.Message, error)
	// DeleteMessage removes a message and returns it so callers know its
	// conversation.
	DeleteMessage(ctx context.Context, userID, id string) (model.Message, error)

	// InsertBranch stores a new conversation and its copied messages
	// atomically.
	InsertBranch(ctx context.Context, c model.Conversation, msgs []model.Message) (model.Conversation, error)

	CreateProject(ctx context.Context, p model.Project) (model.Project, error)
	RenameProject(ctx context.Context, userID, id, name string) (model.Project, error)
	DeleteProject(ctx context.Context, userID, id string) error
	ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error)
	AddConversationToProject(ctx context.Context, userID, conversationID, projectID string) error
	RemoveConversationFromProject(ctx context.Context, userID, conversationID, projectID string) error
	ProjectMapping(ctx context.Context, userID string) ([]model.ConversationProject, error)
	ProjectsForConversation(ctx context.Context, userID, conversationID string) ([]model.Project, error)

	CreateShare(ctx context.Context, s model.SharedItem) (model.SharedItem, error)
	DeleteShare(ctx context.Context, userID, id string) error
	ListShares(ctx context.Context, userID string) ([]model.SharedItem, error)
	// GetShare is the unauthenticated lookup behind public share links.
	GetShare(ctx context.Context, id string) (model.SharedItem, error)

	Ping(ctx context.Context) error
	Close()
}

// stamp normalizes timestamps to UTC milliseconds, the resolution every
// backend round-trips exactly.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func stampPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := stamp(*t)
	return &v
}

// prepareConversation fills server-side defaults before insert.
func prepareConversation(c model.Conversation, now time.Time) model.Conversation {
	if c.Title == "" {
		c.Title = model.DefaultTitle
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = stamp(c.UpdatedAt)
	c.LastMessageAt = stampPtr(c.LastMessageAt)
	return c
}

func prepareMessage(m model.Message, now time.Time) model.Message {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = stamp(m.CreatedAt)
	return m
}

// pageOf trims rows fetched with limit+1 into a page.
func pageOf(rows []model.Conversation, limit int, latest int64) model.ConversationPage {
	page := model.ConversationPage{LatestRevision: latest}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []model.Conversation{}
	}
	page.Conversations = rows
	if page.HasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		cursor := last.SortKey()
		page.NextCursor = &cursor
		page.NextCursorID = last.ID
	}
	return page
}
