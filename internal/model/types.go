package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

const DefaultTitle = "New conversation"

type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"-"`
	Title         string     `json:"title"`
	ModelID       *string    `json:"modelId,omitempty"`
	Starred       bool       `json:"starred"`
	Archived      bool       `json:"archived"`
	IsPublic      bool       `json:"isPublic"`
	Revision      int64      `json:"revision,omitempty"`
	CreatedAt     time.Time  `json:"createdAt,omitzero"`
	UpdatedAt     time.Time  `json:"updatedAt,omitzero"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
}

// SortKey is the pagination key: lastMessageAt, or createdAt when the
// conversation has no messages yet.
func (c Conversation) SortKey() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Summary is the lightweight projection served by the title listing: what
// a sidebar row shows, plus the revision.
func (c Conversation) Summary() Conversation {
	return Conversation{
		ID:            c.ID,
		Title:         c.Title,
		Starred:       c.Starred,
		Archived:      c.Archived,
		IsPublic:      c.IsPublic,
		Revision:      c.Revision,
		LastMessageAt: c.LastMessageAt,
	}
}

// ConversationPatch carries a field-level update. Nil fields are left alone.
type ConversationPatch struct {
	Title         *string    `json:"title,omitempty"`
	ModelID       *string    `json:"modelId,omitempty"`
	Starred       *bool      `json:"starred,omitempty"`
	Archived      *bool      `json:"archived,omitempty"`
	IsPublic      *bool      `json:"isPublic,omitempty"`
	Revision      *int64     `json:"revision,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

func (p ConversationPatch) Empty() bool {
	return p.Title == nil && p.ModelID == nil && p.Starred == nil && p.Archived == nil &&
		p.IsPublic == nil && p.Revision == nil && p.LastMessageAt == nil && p.UpdatedAt == nil
}

// ApplyTo merges the patch into c. UpdatedAt is only touched when the patch
// carries one; callers decide how to stamp it.
func (p ConversationPatch) ApplyTo(c *Conversation) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.ModelID != nil {
		v := *p.ModelID
		c.ModelID = &v
	}
	if p.Starred != nil {
		c.Starred = *p.Starred
	}
	if p.Archived != nil {
		c.Archived = *p.Archived
	}
	if p.IsPublic != nil {
		c.IsPublic = *p.IsPublic
	}
	if p.Revision != nil {
		c.Revision = *p.Revision
	}
	if p.LastMessageAt != nil {
		v := *p.LastMessageAt
		c.LastMessageAt = &v
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ClientID       *string   `json:"clientId"`
	MetaJSON       *string   `json:"metaJson"`
	CreatedAt      time.Time `json:"createdAt"`
}

type MessagePatch struct {
	Content  *string `json:"content,omitempty"`
	MetaJSON *string `json:"metaJson,omitempty"`
}

func (p MessagePatch) ApplyTo(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.MetaJSON != nil {
		v := *p.MetaJSON
		m.MetaJSON = &v
	}
}

type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectSummary is a project listing row with its conversation count.
type ProjectSummary struct {
	Project
	ConversationCount int `json:"conversationCount"`
}

type ConversationProject struct {
	ConversationID string `json:"conversationId"`
	ProjectID      string `json:"projectId"`
}

type SharedItem struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	ConversationID string    `json:"conversationId"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Preview is the first user/assistant exchange of a conversation.
type Preview struct {
	ConversationID string   `json:"conversationId"`
	User           *Message `json:"user,omitempty"`
	Assistant      *Message `json:"assistant,omitempty"`
}

type ArchivedFilter int

const (
	ArchivedExclude ArchivedFilter = iota
	ArchivedOnly
	ArchivedAny
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

// ListQuery mirrors the conversation listing query parameters. CursorID
// breaks ties between rows sharing the Cursor sort key: with it set, a page
// continues at rows with an equal key and a smaller id.
type ListQuery struct {
	Cursor        *time.Time
	CursorID      string
	Limit         int
	Starred       *bool
	Archived      ArchivedFilter
	Full          bool
	SinceRevision *int64
}

func (q ListQuery) Normalize() ListQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return q
}

// IsDefault reports whether q is the first page of the unfiltered title
// listing, the only shape the title cache stores.
func (q ListQuery) IsDefault() bool {
	return q.Cursor == nil && q.CursorID == "" && q.Starred == nil && q.Archived == ArchivedExclude &&
		!q.Full && q.SinceRevision == nil && q.Limit == DefaultPageSize
}

type ConversationPage struct {
	Conversations  []Conversation `json:"conversations"`
	NextCursor     *time.Time     `json:"nextCursor"`
	NextCursorID   string         `json:"nextCursorId,omitempty"`
	HasMore        bool           `json:"hasMore"`
	LatestRevision int64          `json:"latestRevision"`
}
