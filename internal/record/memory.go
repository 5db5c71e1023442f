package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

// MemoryStore keeps every record in process memory. It backs single-instance
// deployments without a database and the service tests.
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[string]model.Conversation
	messages      *messageLog
	projects      map[string]model.Project
	links         map[string]map[string]struct{} // conversation id -> project ids
	shares        map[string]model.SharedItem

	seq *revisionSeq
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithNow(time.Now)
}

func NewMemoryStoreWithNow(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]model.Conversation),
		messages:      newMessageLog(),
		projects:      make(map[string]model.Project),
		links:         make(map[string]map[string]struct{}),
		shares:        make(map[string]model.SharedItem),
		seq:           newRevisionSeq(),
		now:           now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) ownedConversationLocked(userID, id string) (model.Conversation, error) {
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return model.Conversation{}, apperr.NotFound("Conversation")
	}
	return c, nil
}

func (s *MemoryStore) InsertConversation(_ context.Context, c model.Conversation) (model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.conversations[c.ID]; ok {
		if existing.UserID != c.UserID {
			return model.Conversation{}, false, apperr.InvalidState("conversation id already in use")
		}
		return existing, false, nil
	}

	c = prepareConversation(c, stamp(s.now()))
	c.Revision = s.seq.next()
	s.conversations[c.ID] = c
	return c, true, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, userID, id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownedConversationLocked(userID, id)
}

func (s *MemoryStore) UpdateConversation(_ context.Context, userID, id string, patch model.ConversationPatch) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ownedConversationLocked(userID, id)
	if err != nil {
		return model.Conversation{}, err
	}

	patch.Revision = nil
	patch.LastMessageAt = stampPtr(patch.LastMessageAt)
	if patch.UpdatedAt == nil {
		now := stamp(s.now())
		patch.UpdatedAt = &now
	} else {
		patch.UpdatedAt = stampPtr(patch.UpdatedAt)
	}
	patch.ApplyTo(&c)
	c.Revision = s.seq.next()
	s.conversations[id] = c
	return c, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedConversationLocked(userID, id); err != nil {
		return err
	}
	delete(s.conversations, id)
	s.messages.deleteConversation(id)
	delete(s.links, id)
	for shareID, sh := range s.shares {
		if sh.ConversationID == id {
			delete(s.shares, shareID)
		}
	}
	return nil
}

func matchesQuery(c model.Conversation, q model.ListQuery) bool {
	switch q.Archived {
	case model.ArchivedExclude:
		if c.Archived {
			return false
		}
	case model.ArchivedOnly:
		if !c.Archived {
			return false
		}
	}
	if q.Starred != nil && c.Starred != *q.Starred {
		return false
	}
	if q.SinceRevision != nil && c.Revision <= *q.SinceRevision {
		return false
	}
	if q.Cursor != nil && !afterCursor(c, *q.Cursor, q.CursorID) {
		return false
	}
	return true
}

// afterCursor reports whether c sorts after the (key, id) cursor in the
// listing order. An empty id keeps only rows strictly older than key.
func afterCursor(c model.Conversation, key time.Time, id string) bool {
	k := stamp(c.SortKey())
	key = stamp(key)
	if k.Before(key) {
		return true
	}
	return id != "" && k.Equal(key) && c.ID < id
}

// sortConversations orders by sort key descending, then id descending so
// equal keys have a stable order.
func sortConversations(rows []model.Conversation) {
	sort.Slice(rows, func(i, j int) bool {
		ki, kj := rows[i].SortKey(), rows[j].SortKey()
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return rows[i].ID > rows[j].ID
	})
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string, q model.ListQuery) (model.ConversationPage, error) {
	q = q.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	rows := make([]model.Conversation, 0)
	for _, c := range s.conversations {
		if c.UserID != userID {
			continue
		}
		if c.Revision > latest {
			latest = c.Revision
		}
		if matchesQuery(c, q) {
			rows = append(rows, c)
		}
	}
	sortConversations(rows)
	if len(rows) > q.Limit+1 {
		rows = rows[:q.Limit+1]
	}
	return pageOf(rows, q.Limit, latest), nil
}

func (s *MemoryStore) LatestRevision(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	for _, c := range s.conversations {
		if c.UserID == userID && c.Revision > latest {
			latest = c.Revision
		}
	}
	return latest, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, userID string, m model.Message) (model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ownedConversationLocked(userID, m.ConversationID)
	if err != nil {
		return model.Message{}, false, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if existing, ok := s.messages.get(m.ID); ok {
		return existing, false, nil
	}

	m = prepareMessage(m, stamp(s.now()))
	s.messages.append(m)

	at := m.CreatedAt
	c.LastMessageAt = &at
	c.UpdatedAt = at
	c.Revision = s.seq.next()
	s.conversations[c.ID] = c
	return m, true, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, userID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ownedConversationLocked(userID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.list(conversationID), nil
}

func (s *MemoryStore) FirstMessages(ctx context.Context, userID, conversationID string, n int) ([]model.Message, error) {
	msgs, err := s.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(msgs) > n {
		msgs = msgs[:n]
	}
	return msgs, nil
}

func (s *MemoryStore) ownedMessageLocked(userID, id string) (model.Message, model.Conversation, error) {
	msg, ok := s.messages.get(id)
	if !ok {
		return model.Message{}, model.Conversation{}, apperr.NotFound("Message")
	}
	c, err := s.ownedConversationLocked(userID, msg.ConversationID)
	if err != nil {
		return model.Message{}, model.Conversation{}, apperr.NotFound("Message")
	}
	return msg, c, nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, userID, id string, patch model.MessagePatch) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, c, err := s.ownedMessageLocked(userID, id)
	if err != nil {
		return model.Message{}, err
	}
	patch.ApplyTo(&msg)
	s.messages.replace(msg)

	c.UpdatedAt = stamp(s.now())
	c.Revision = s.seq.next()
	s.conversations[c.ID] = c
	return msg, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, userID, id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, c, err := s.ownedMessageLocked(userID, id)
	if err != nil {
		return model.Message{}, err
	}
	s.messages.remove(id)

	c.UpdatedAt = stamp(s.now())
	c.Revision = s.seq.next()
	s.conversations[c.ID] = c
	return msg, nil
}

func (s *MemoryStore) InsertBranch(_ context.Context, c model.Conversation, msgs []model.Message) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[c.ID]; ok {
		return model.Conversation{}, apperr.InvalidState("conversation id already in use")
	}
	for _, m := range msgs {
		if _, ok := s.messages.get(m.ID); ok {
			return model.Conversation{}, apperr.InvalidState("message id already in use")
		}
	}

	now := stamp(s.now())
	c = prepareConversation(c, now)
	c.Revision = s.seq.next()
	s.conversations[c.ID] = c
	for _, m := range msgs {
		m.ConversationID = c.ID
		s.messages.append(prepareMessage(m, now))
	}
	return c, nil
}

func (s *MemoryStore) ownedProjectLocked(userID, id string) (model.Project, error) {
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return model.Project{}, apperr.NotFound("Project")
	}
	return p, nil
}

func (s *MemoryStore) CreateProject(_ context.Context, p model.Project) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if existing, ok := s.projects[p.ID]; ok {
		if existing.UserID != p.UserID {
			return model.Project{}, apperr.InvalidState("project id already in use")
		}
		return existing, nil
	}
	now := stamp(s.now())
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = stamp(p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	s.projects[p.ID] = p
	return p, nil
}

func (s *MemoryStore) RenameProject(_ context.Context, userID, id, name string) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.ownedProjectLocked(userID, id)
	if err != nil {
		return model.Project{}, err
	}
	p.Name = name
	p.UpdatedAt = stamp(s.now())
	s.projects[id] = p
	return p, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedProjectLocked(userID, id); err != nil {
		return err
	}
	delete(s.projects, id)
	for _, set := range s.links {
		delete(set, id)
	}
	return nil
}

func (s *MemoryStore) ListProjects(_ context.Context, userID string) ([]model.ProjectSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, set := range s.links {
		for pid := range set {
			counts[pid]++
		}
	}
	result := make([]model.ProjectSummary, 0)
	for _, p := range s.projects {
		if p.UserID == userID {
			result = append(result, model.ProjectSummary{Project: p, ConversationCount: counts[p.ID]})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) AddConversationToProject(_ context.Context, userID, conversationID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedConversationLocked(userID, conversationID); err != nil {
		return err
	}
	if _, err := s.ownedProjectLocked(userID, projectID); err != nil {
		return err
	}
	set, ok := s.links[conversationID]
	if !ok {
		set = make(map[string]struct{})
		s.links[conversationID] = set
	}
	set[projectID] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveConversationFromProject(_ context.Context, userID, conversationID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedConversationLocked(userID, conversationID); err != nil {
		return err
	}
	delete(s.links[conversationID], projectID)
	return nil
}

func (s *MemoryStore) ProjectMapping(_ context.Context, userID string) ([]model.ConversationProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ConversationProject, 0)
	for convID, set := range s.links {
		c, ok := s.conversations[convID]
		if !ok || c.UserID != userID {
			continue
		}
		for pid := range set {
			result = append(result, model.ConversationProject{ConversationID: convID, ProjectID: pid})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ConversationID != result[j].ConversationID {
			return result[i].ConversationID < result[j].ConversationID
		}
		return result[i].ProjectID < result[j].ProjectID
	})
	return result, nil
}

func (s *MemoryStore) ProjectsForConversation(_ context.Context, userID, conversationID string) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ownedConversationLocked(userID, conversationID); err != nil {
		return nil, err
	}
	result := make([]model.Project, 0)
	for pid := range s.links[conversationID] {
		if p, ok := s.projects[pid]; ok {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) CreateShare(_ context.Context, sh model.SharedItem) (model.SharedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ownedConversationLocked(sh.UserID, sh.ConversationID)
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
	s.shares[sh.ID] = sh
	sh.Title = c.Title
	return sh, nil
}

func (s *MemoryStore) DeleteShare(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shares[id]
	if !ok || sh.UserID != userID {
		return apperr.NotFound("Share")
	}
	delete(s.shares, id)
	return nil
}

func (s *MemoryStore) ListShares(_ context.Context, userID string) ([]model.SharedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.SharedItem, 0)
	for _, sh := range s.shares {
		if sh.UserID != userID {
			continue
		}
		sh.Title = s.conversations[sh.ConversationID].Title
		result = append(result, sh)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) GetShare(_ context.Context, id string) (model.SharedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shares[id]
	if !ok {
		return model.SharedItem{}, apperr.NotFound("Share")
	}
	sh.Title = s.conversations[sh.ConversationID].Title
	return sh, nil
}
