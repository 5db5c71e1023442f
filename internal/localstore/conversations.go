package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

const conversationColumns = `id, title, model_id, starred, archived, is_public, revision, created_at, updated_at, last_message_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var (
		c                    model.Conversation
		modelID              sql.NullString
		starred, archived    int
		isPublic             int
		createdAt, updatedAt int64
		lastMessageAt        sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Title, &modelID, &starred, &archived, &isPublic, &c.Revision,
		&createdAt, &updatedAt, &lastMessageAt)
	if err != nil {
		return model.Conversation{}, err
	}
	c.ModelID = fromNullString(modelID)
	c.Starred = starred != 0
	c.Archived = archived != 0
	c.IsPublic = isPublic != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	c.LastMessageAt = fromNullMillis(lastMessageAt)
	return c, nil
}

func conversationArgs(c model.Conversation) []any {
	return []any{c.ID, c.Title, nullString(c.ModelID), boolToInt(c.Starred), boolToInt(c.Archived),
		boolToInt(c.IsPublic), c.Revision, millis(c.CreatedAt), millis(c.UpdatedAt), nullMillis(c.LastMessageAt)}
}

// normalize fills defaults and truncates timestamps so a stored row reads
// back equal to what was written.
func (s *Store) normalize(c model.Conversation) model.Conversation {
	if c.Title == "" {
		c.Title = model.DefaultTitle
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = stamp(c.UpdatedAt)
	if c.LastMessageAt != nil {
		t := stamp(*c.LastMessageAt)
		c.LastMessageAt = &t
	}
	c.UserID = ""
	return c
}

// GetAllConversations returns every conversation, most recent message
// first; conversations without messages sort last.
func (s *Store) GetAllConversations(ctx context.Context) ([]model.Conversation, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_message_at IS NULL, last_message_at DESC, created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []model.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns nil when id is unknown.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// CreateConversation inserts c. An existing id is an InvalidState error.
func (s *Store) CreateConversation(ctx context.Context, c model.Conversation) (model.Conversation, error) {
	if !s.Available() {
		return model.Conversation{}, apperr.ErrStorageUnavailable
	}
	c = s.normalize(c)
	res, err := s.db.ExecContext(ctx, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`, conversationArgs(c)...)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Conversation{}, apperr.InvalidState("conversation already exists")
	}
	return c, nil
}

// UpsertConversation writes c whole, replacing any stored row.
func (s *Store) UpsertConversation(ctx context.Context, c model.Conversation) (model.Conversation, error) {
	if !s.Available() {
		return model.Conversation{}, apperr.ErrStorageUnavailable
	}
	c = s.normalize(c)
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model_id = excluded.model_id,
			starred = excluded.starred,
			archived = excluded.archived,
			is_public = excluded.is_public,
			revision = excluded.revision,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_message_at = excluded.last_message_at`, conversationArgs(c)...)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}
	return c, nil
}

// UpdateConversation merges patch into the stored row. UpdatedAt is stamped
// with the current time unless the patch carries one. It returns nil when
// id is unknown.
func (s *Store) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	var out *model.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanConversation(tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		patch.ApplyTo(&c)
		if patch.UpdatedAt == nil {
			c.UpdatedAt = s.now()
		}
		c = s.normalize(c)
		_, err = tx.ExecContext(ctx, `UPDATE conversations SET title = ?, model_id = ?, starred = ?,
			archived = ?, is_public = ?, revision = ?, updated_at = ?, last_message_at = ? WHERE id = ?`,
			c.Title, nullString(c.ModelID), boolToInt(c.Starred), boolToInt(c.Archived), boolToInt(c.IsPublic),
			c.Revision, millis(c.UpdatedAt), nullMillis(c.LastMessageAt), id)
		if err != nil {
			return err
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return out, nil
}

// DeleteConversation removes the conversation with its messages and
// project links in one transaction.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM messages WHERE conversation_id = ?`,
			`DELETE FROM conversation_projects WHERE conversation_id = ?`,
			`DELETE FROM conversations WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
