package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

const messageColumns = `id, conversation_id, role, content, client_id, meta_json, created_at`

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m         model.Message
		role      string
		clientID  sql.NullString
		metaJSON  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &clientID, &metaJSON, &createdAt); err != nil {
		return model.Message{}, err
	}
	m.Role = model.Role(role)
	m.Content = Decompress(m.Content)
	m.ClientID = fromNullString(clientID)
	m.MetaJSON = fromNullString(metaJSON)
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

func (s *Store) prepareMessage(m model.Message) model.Message {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.CreatedAt = stamp(m.CreatedAt)
	return m
}

func insertMessage(ctx context.Context, tx *sql.Tx, m model.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, meta_json = excluded.meta_json`,
		m.ID, m.ConversationID, string(m.Role), Compress(m.Content), nullString(m.ClientID),
		nullString(m.MetaJSON), millis(m.CreatedAt))
	return err
}

// GetMessagesByConversation returns the conversation's messages oldest
// first, insertion order breaking ties, with content decompressed.
func (s *Store) GetMessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage returns nil when id is unknown.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// CreateMessage stores m and moves the parent conversation's
// lastMessageAt and updatedAt to m.CreatedAt in the same transaction.
func (s *Store) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if !s.Available() {
		return model.Message{}, apperr.ErrStorageUnavailable
	}
	m = s.prepareMessage(m)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
		at := millis(m.CreatedAt)
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
			at, at, m.ConversationID)
		return err
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

// UpdateMessage returns nil when id is unknown.
func (s *Store) UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (*model.Message, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	m, err := s.GetMessage(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}
	patch.ApplyTo(m)
	_, err = s.db.ExecContext(ctx, `UPDATE messages SET content = ?, meta_json = ? WHERE id = ?`,
		Compress(m.Content), nullString(m.MetaJSON), id)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ReplaceMessages swaps the stored messages of one conversation for msgs,
// in one transaction. Used when reconciling with the server.
func (s *Store) ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
			return err
		}
		for _, m := range msgs {
			m = s.prepareMessage(m)
			m.ConversationID = conversationID
			if err := insertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace messages: %w", err)
	}
	return nil
}
