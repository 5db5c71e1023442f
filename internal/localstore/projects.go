package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

const projectColumns = `id, name, created_at, updated_at`

func scanProject(row rowScanner) (model.Project, error) {
	var (
		p                    model.Project
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.Name, &createdAt, &updatedAt); err != nil {
		return model.Project{}, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func (s *Store) prepareProject(p model.Project) model.Project {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	p.CreatedAt = stamp(p.CreatedAt)
	p.UpdatedAt = stamp(p.UpdatedAt)
	p.UserID = ""
	return p
}

func (s *Store) queryProjects(ctx context.Context, query string, args ...any) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if !s.Available() {
		return model.Project{}, apperr.ErrStorageUnavailable
	}
	p = s.prepareProject(p)
	res, err := s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, p.ID, p.Name, millis(p.CreatedAt), millis(p.UpdatedAt))
	if err != nil {
		return model.Project{}, fmt.Errorf("create project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Project{}, apperr.InvalidState("project already exists")
	}
	return p, nil
}

func (s *Store) UpsertProject(ctx context.Context, p model.Project) (model.Project, error) {
	if !s.Available() {
		return model.Project{}, apperr.ErrStorageUnavailable
	}
	p = s.prepareProject(p)
	_, err := s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, millis(p.CreatedAt), millis(p.UpdatedAt))
	if err != nil {
		return model.Project{}, fmt.Errorf("upsert project: %w", err)
	}
	return p, nil
}

// GetProject returns nil when id is unknown.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// GetAllProjects returns projects ordered by name.
func (s *Store) GetAllProjects(ctx context.Context) ([]model.Project, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	out, err := s.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// UpdateProject renames a project. It returns nil when id is unknown.
func (s *Store) UpdateProject(ctx context.Context, id, name string) (*model.Project, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	now := millis(stamp(s.now()))
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET name = ?, updated_at = ? WHERE id = ?`, name, now, id)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes the project and its conversation links.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_projects WHERE project_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (s *Store) AddConversationToProject(ctx context.Context, conversationID, projectID string) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversation_projects (conversation_id, project_id)
		VALUES (?, ?) ON CONFLICT DO NOTHING`, conversationID, projectID)
	if err != nil {
		return fmt.Errorf("link conversation: %w", err)
	}
	return nil
}

func (s *Store) RemoveConversationFromProject(ctx context.Context, conversationID, projectID string) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_projects WHERE conversation_id = ? AND project_id = ?`,
		conversationID, projectID)
	if err != nil {
		return fmt.Errorf("unlink conversation: %w", err)
	}
	return nil
}

func (s *Store) GetProjectsForConversation(ctx context.Context, conversationID string) ([]model.Project, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	out, err := s.queryProjects(ctx, `SELECT p.id, p.name, p.created_at, p.updated_at
		FROM projects p JOIN conversation_projects cp ON cp.project_id = p.id
		WHERE cp.conversation_id = ? ORDER BY p.name, p.id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("projects for conversation: %w", err)
	}
	return out, nil
}

func (s *Store) GetConversationsForProject(ctx context.Context, projectID string) ([]model.Conversation, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT c.id, c.title, c.model_id, c.starred, c.archived, c.is_public,
			c.revision, c.created_at, c.updated_at, c.last_message_at
		FROM conversations c JOIN conversation_projects cp ON cp.conversation_id = c.id
		WHERE cp.project_id = ?
		ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC, c.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("conversations for project: %w", err)
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

// GetAllLinks returns every conversation-project link.
func (s *Store) GetAllLinks(ctx context.Context) ([]model.ConversationProject, error) {
	if !s.Available() {
		return nil, apperr.ErrStorageUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, project_id FROM conversation_projects
		ORDER BY conversation_id, project_id`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	out := []model.ConversationProject{}
	for rows.Next() {
		var l model.ConversationProject
		if err := rows.Scan(&l.ConversationID, &l.ProjectID); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReplaceLinks swaps the whole link table for links.
func (s *Store) ReplaceLinks(ctx context.Context, links []model.ConversationProject) error {
	if !s.Available() {
		return apperr.ErrStorageUnavailable
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_projects`); err != nil {
			return err
		}
		for _, l := range links {
			_, err := tx.ExecContext(ctx, `INSERT INTO conversation_projects (conversation_id, project_id)
				VALUES (?, ?) ON CONFLICT DO NOTHING`, l.ConversationID, l.ProjectID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace links: %w", err)
	}
	return nil
}
