package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

const postgresSchema = `
CREATE SEQUENCE IF NOT EXISTS conversation_revision_seq;

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	title           TEXT NOT NULL,
	model_id        TEXT,
	starred         BOOLEAN NOT NULL DEFAULT FALSE,
	archived        BOOLEAN NOT NULL DEFAULT FALSE,
	is_public       BOOLEAN NOT NULL DEFAULT FALSE,
	revision        BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	last_message_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_sort
	ON conversations (user_id, (COALESCE(last_message_at, created_at)) DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_user_revision ON conversations (user_id, revision);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	seq             BIGSERIAL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	client_id       TEXT,
	meta_json       TEXT,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at, seq);

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_user_name ON projects (user_id, name);

CREATE TABLE IF NOT EXISTS conversation_projects (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (conversation_id, project_id)
);
CREATE INDEX IF NOT EXISTS idx_conversation_projects_project ON conversation_projects (project_id);

CREATE TABLE IF NOT EXISTS shares (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shares_user ON shares (user_id, created_at DESC);
`

const conversationColumns = `id, user_id, title, model_id, starred, archived, is_public, revision, created_at, updated_at, last_message_at`

const messageColumns = `id, conversation_id, role, content, client_id, meta_json, created_at`

// PostgresStore is the multi-instance record store.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, url string, maxConns int32) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "connect database", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "ping database", err)
	}

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.ModelID, &c.Starred, &c.Archived, &c.IsPublic,
		&c.Revision, &c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt)
	if err != nil {
		return model.Conversation{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.LastMessageAt = stampPtr(c.LastMessageAt)
	return c, nil
}

func scanMessage(row rowScanner) (model.Message, error) {
	var m model.Message
	var role string
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.ClientID, &m.MetaJSON, &m.CreatedAt)
	if err != nil {
		return model.Message{}, err
	}
	m.Role = model.Role(role)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// notFound translates pgx.ErrNoRows at the store boundary.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(what)
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (s *PostgresStore) InsertConversation(ctx context.Context, c model.Conversation) (model.Conversation, bool, error) {
	c = prepareConversation(c, stamp(s.now()))
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id, title, model_id, starred, archived, is_public, revision, created_at, updated_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, nextval('conversation_revision_seq'), $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+conversationColumns,
		c.ID, c.UserID, c.Title, c.ModelID, c.Starred, c.Archived, c.IsPublic, c.CreatedAt, c.UpdatedAt, c.LastMessageAt)
	created, err := scanConversation(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, false, err
	}

	existing, err := scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, c.ID))
	if err != nil {
		return model.Conversation{}, false, notFound(err, "Conversation")
	}
	if existing.UserID != c.UserID {
		return model.Conversation{}, false, apperr.InvalidState("conversation id already in use")
	}
	return existing, false, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, userID, id string) (model.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return model.Conversation{}, notFound(err, "Conversation")
	}
	return c, nil
}

// UpdateConversation builds its SET list from the fields present in patch.
func (s *PostgresStore) UpdateConversation(ctx context.Context, userID, id string, patch model.ConversationPatch) (model.Conversation, error) {
	sets := []string{"revision = nextval('conversation_revision_seq')"}
	args := []any{id, userID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.ModelID != nil {
		add("model_id", *patch.ModelID)
	}
	if patch.Starred != nil {
		add("starred", *patch.Starred)
	}
	if patch.Archived != nil {
		add("archived", *patch.Archived)
	}
	if patch.IsPublic != nil {
		add("is_public", *patch.IsPublic)
	}
	if patch.LastMessageAt != nil {
		add("last_message_at", stamp(*patch.LastMessageAt))
	}
	if patch.UpdatedAt != nil {
		add("updated_at", stamp(*patch.UpdatedAt))
	} else {
		add("updated_at", stamp(s.now()))
	}

	query := `UPDATE conversations SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND user_id = $2 RETURNING ` + conversationColumns
	c, err := scanConversation(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return model.Conversation{}, notFound(err, "Conversation")
	}
	return c, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Conversation")
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string, q model.ListQuery) (model.ConversationPage, error) {
	q = q.Normalize()

	where := []string{"user_id = $1"}
	args := []any{userID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	switch q.Archived {
	case model.ArchivedExclude:
		where = append(where, "archived = FALSE")
	case model.ArchivedOnly:
		where = append(where, "archived = TRUE")
	}
	if q.Starred != nil {
		add("starred = $%d", *q.Starred)
	}
	if q.SinceRevision != nil {
		add("revision > $%d", *q.SinceRevision)
	}
	if q.Cursor != nil {
		if q.CursorID == "" {
			add("COALESCE(last_message_at, created_at) < $%d", stamp(*q.Cursor))
		} else {
			args = append(args, stamp(*q.Cursor), q.CursorID)
			where = append(where, fmt.Sprintf(
				"(COALESCE(last_message_at, created_at), id) < ($%d, $%d)", len(args)-1, len(args)))
		}
	}
	args = append(args, q.Limit+1)

	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE %s
		ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC
		LIMIT $%d`, conversationColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return model.ConversationPage{}, err
	}
	defer rows.Close()

	result := make([]model.Conversation, 0, q.Limit+1)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return model.ConversationPage{}, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return model.ConversationPage{}, err
	}

	latest, err := s.LatestRevision(ctx, userID)
	if err != nil {
		return model.ConversationPage{}, err
	}
	return pageOf(result, q.Limit, latest), nil
}

func (s *PostgresStore) LatestRevision(ctx context.Context, userID string) (int64, error) {
	var latest int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(revision), 0) FROM conversations WHERE user_id = $1`, userID).Scan(&latest)
	return latest, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, userID string, m model.Message) (model.Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m = prepareMessage(m, stamp(s.now()))

	var (
		out     model.Message
		created bool
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT user_id FROM conversations WHERE id = $1 FOR UPDATE`, m.ConversationID).Scan(&owner)
		if err != nil {
			return notFound(err, "Conversation")
		}
		if owner != userID {
			return apperr.NotFound("Conversation")
		}

		inserted, err := scanMessage(tx.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, client_id, meta_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+messageColumns,
			m.ID, m.ConversationID, string(m.Role), m.Content, m.ClientID, m.MetaJSON, m.CreatedAt))
		if errors.Is(err, pgx.ErrNoRows) {
			out, err = scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, m.ID))
			return err
		}
		if err != nil {
			return err
		}
		out, created = inserted, true

		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_at = $2, updated_at = $2, revision = nextval('conversation_revision_seq')
			WHERE id = $1`, m.ConversationID, m.CreatedAt)
		return err
	})
	if err != nil {
		return model.Message{}, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, userID, conversationID string) ([]model.Message, error) {
	return s.FirstMessages(ctx, userID, conversationID, -1)
}

// FirstMessages returns the first n messages; n < 0 returns all of them.
func (s *PostgresStore) FirstMessages(ctx context.Context, userID, conversationID string, n int) ([]model.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC`
	args := []any{conversationID}
	if n >= 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) touchConversation(ctx context.Context, tx pgx.Tx, conversationID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = $2, revision = nextval('conversation_revision_seq')
		WHERE id = $1`, conversationID, stamp(s.now()))
	return err
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, userID, id string, patch model.MessagePatch) (model.Message, error) {
	var out model.Message
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		m, err := scanMessage(tx.QueryRow(ctx, `
			SELECT m.id, m.conversation_id, m.role, m.content, m.client_id, m.meta_json, m.created_at
			FROM messages m JOIN conversations c ON c.id = m.conversation_id
			WHERE m.id = $1 AND c.user_id = $2
			FOR UPDATE OF m`, id, userID))
		if err != nil {
			return notFound(err, "Message")
		}
		patch.ApplyTo(&m)
		if _, err := tx.Exec(ctx, `UPDATE messages SET content = $2, meta_json = $3 WHERE id = $1`,
			m.ID, m.Content, m.MetaJSON); err != nil {
			return err
		}
		out = m
		return s.touchConversation(ctx, tx, m.ConversationID)
	})
	if err != nil {
		return model.Message{}, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, userID, id string) (model.Message, error) {
	var out model.Message
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		m, err := scanMessage(tx.QueryRow(ctx, `
			DELETE FROM messages m USING conversations c
			WHERE m.id = $1 AND c.id = m.conversation_id AND c.user_id = $2
			RETURNING m.id, m.conversation_id, m.role, m.content, m.client_id, m.meta_json, m.created_at`, id, userID))
		if err != nil {
			return notFound(err, "Message")
		}
		out = m
		return s.touchConversation(ctx, tx, m.ConversationID)
	})
	if err != nil {
		return model.Message{}, err
	}
	return out, nil
}

func (s *PostgresStore) InsertBranch(ctx context.Context, c model.Conversation, msgs []model.Message) (model.Conversation, error) {
	now := stamp(s.now())
	c = prepareConversation(c, now)

	var out model.Conversation
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		created, err := scanConversation(tx.QueryRow(ctx, `
			INSERT INTO conversations (id, user_id, title, model_id, starred, archived, is_public, revision, created_at, updated_at, last_message_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, nextval('conversation_revision_seq'), $8, $9, $10)
			RETURNING `+conversationColumns,
			c.ID, c.UserID, c.Title, c.ModelID, c.Starred, c.Archived, c.IsPublic, c.CreatedAt, c.UpdatedAt, c.LastMessageAt))
		if err != nil {
			return err
		}
		out = created

		batch := &pgx.Batch{}
		for _, m := range msgs {
			m = prepareMessage(m, now)
			batch.Queue(`
				INSERT INTO messages (id, conversation_id, role, content, client_id, meta_json, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.ID, c.ID, string(m.Role), m.Content, m.ClientID, m.MetaJSON, m.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Conversation{}, apperr.InvalidState("conversation id already in use")
		}
		return model.Conversation{}, err
	}
	return out, nil
}

func scanProject(row rowScanner) (model.Project, error) {
	var p model.Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Project{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.CreatedAt = stamp(p.CreatedAt)

	created, err := scanProject(s.db.QueryRow(ctx, `
		INSERT INTO projects (id, user_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, user_id, name, created_at, updated_at`, p.ID, p.UserID, p.Name, p.CreatedAt))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, err
	}
	existing, err := scanProject(s.db.QueryRow(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM projects WHERE id = $1`, p.ID))
	if err != nil {
		return model.Project{}, notFound(err, "Project")
	}
	if existing.UserID != p.UserID {
		return model.Project{}, apperr.InvalidState("project id already in use")
	}
	return existing, nil
}

func (s *PostgresStore) RenameProject(ctx context.Context, userID, id, name string) (model.Project, error) {
	p, err := scanProject(s.db.QueryRow(ctx, `
		UPDATE projects SET name = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, name, created_at, updated_at`, id, userID, name, stamp(s.now())))
	if err != nil {
		return model.Project{}, notFound(err, "Project")
	}
	return p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Project")
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.user_id, p.name, p.created_at, p.updated_at, COUNT(cp.conversation_id)
		FROM projects p
		LEFT JOIN conversation_projects cp ON cp.project_id = p.id
		WHERE p.user_id = $1
		GROUP BY p.id
		ORDER BY p.name ASC, p.id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.ProjectSummary, 0)
	for rows.Next() {
		var ps model.ProjectSummary
		var count int64
		if err := rows.Scan(&ps.ID, &ps.UserID, &ps.Name, &ps.CreatedAt, &ps.UpdatedAt, &count); err != nil {
			return nil, err
		}
		ps.CreatedAt = ps.CreatedAt.UTC()
		ps.UpdatedAt = ps.UpdatedAt.UTC()
		ps.ConversationCount = int(count)
		result = append(result, ps)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AddConversationToProject(ctx context.Context, userID, conversationID, projectID string) error {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	var owner string
	err := s.db.QueryRow(ctx, `SELECT user_id FROM projects WHERE id = $1`, projectID).Scan(&owner)
	if err != nil {
		return notFound(err, "Project")
	}
	if owner != userID {
		return apperr.NotFound("Project")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversation_projects (conversation_id, project_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, conversationID, projectID)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("Conversation")
	}
	return err
}

func (s *PostgresStore) RemoveConversationFromProject(ctx context.Context, userID, conversationID, projectID string) error {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`DELETE FROM conversation_projects WHERE conversation_id = $1 AND project_id = $2`, conversationID, projectID)
	return err
}

func (s *PostgresStore) ProjectMapping(ctx context.Context, userID string) ([]model.ConversationProject, error) {
	rows, err := s.db.Query(ctx, `
		SELECT cp.conversation_id, cp.project_id
		FROM conversation_projects cp JOIN conversations c ON c.id = cp.conversation_id
		WHERE c.user_id = $1
		ORDER BY cp.conversation_id, cp.project_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.ConversationProject, 0)
	for rows.Next() {
		var cp model.ConversationProject
		if err := rows.Scan(&cp.ConversationID, &cp.ProjectID); err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ProjectsForConversation(ctx context.Context, userID, conversationID string) ([]model.Project, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.user_id, p.name, p.created_at, p.updated_at
		FROM projects p JOIN conversation_projects cp ON cp.project_id = p.id
		WHERE cp.conversation_id = $1
		ORDER BY p.name`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const shareSelect = `
	SELECT s.id, s.user_id, s.conversation_id, c.title, s.created_at
	FROM shares s JOIN conversations c ON c.id = s.conversation_id`

func scanShare(row rowScanner) (model.SharedItem, error) {
	var sh model.SharedItem
	if err := row.Scan(&sh.ID, &sh.UserID, &sh.ConversationID, &sh.Title, &sh.CreatedAt); err != nil {
		return model.SharedItem{}, err
	}
	sh.CreatedAt = sh.CreatedAt.UTC()
	return sh, nil
}

func (s *PostgresStore) CreateShare(ctx context.Context, sh model.SharedItem) (model.SharedItem, error) {
	c, err := s.GetConversation(ctx, sh.UserID, sh.ConversationID)
	if err != nil {
		return model.SharedItem{}, err
	}
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = s.now()
	}
	sh.CreatedAt = stamp(sh.CreatedAt)
	_, err = s.db.Exec(ctx, `
		INSERT INTO shares (id, user_id, conversation_id, created_at) VALUES ($1, $2, $3, $4)`,
		sh.ID, sh.UserID, sh.ConversationID, sh.CreatedAt)
	if isForeignKeyViolation(err) {
		return model.SharedItem{}, apperr.NotFound("Conversation")
	}
	if err != nil {
		return model.SharedItem{}, err
	}
	sh.Title = c.Title
	return sh, nil
}

func (s *PostgresStore) DeleteShare(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM shares WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Share")
	}
	return nil
}

func (s *PostgresStore) ListShares(ctx context.Context, userID string) ([]model.SharedItem, error) {
	rows, err := s.db.Query(ctx, shareSelect+` WHERE s.user_id = $1 ORDER BY s.created_at DESC, s.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.SharedItem, 0)
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sh)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetShare(ctx context.Context, id string) (model.SharedItem, error) {
	sh, err := scanShare(s.db.QueryRow(ctx, shareSelect+` WHERE s.id = $1`, id))
	if err != nil {
		return model.SharedItem{}, notFound(err, "Share")
	}
	return sh, nil
}
