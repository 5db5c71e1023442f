package syncengine

import (
	"context"
	"sort"
	"sync"

	"chat-sync/internal/apperr"
	"chat-sync/internal/localstore"
	"chat-sync/internal/model"
)

// fakeRemote is an in-memory server. fail makes every call return it and
// failOn fails single methods by name. block, when set, holds
// ListConversations until closed.
type fakeRemote struct {
	mu            sync.Mutex
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	projects      map[string]model.Project
	links         map[model.ConversationProject]struct{}
	revision      int64
	fail          error
	failOn        map[string]error
	block         chan struct{}
	title         string
	titleErr      error
	calls         []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string][]model.Message),
		projects:      make(map[string]model.Project),
		links:         make(map[model.ConversationProject]struct{}),
		failOn:        make(map[string]error),
	}
}

func (f *fakeRemote) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeRemote) setFailOn(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, call)
		return
	}
	f.failOn[call] = err
}

func (f *fakeRemote) record(call string) error {
	f.calls = append(f.calls, call)
	if err := f.failOn[call]; err != nil {
		return err
	}
	return f.fail
}

func (f *fakeRemote) hasLink(conversationID, projectID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.links[model.ConversationProject{ConversationID: conversationID, ProjectID: projectID}]
	return ok
}

func (f *fakeRemote) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRemote) put(c model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revision++
	c.Revision = f.revision
	f.conversations[c.ID] = c
}

func (f *fakeRemote) get(id string) (model.Conversation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	return c, ok
}

func (f *fakeRemote) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListConversations"); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(f.conversations))
	for _, c := range f.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemote) CreateConversation(_ context.Context, c model.Conversation) (model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateConversation"); err != nil {
		return model.Conversation{}, err
	}
	if existing, ok := f.conversations[c.ID]; ok {
		return existing, nil
	}
	f.revision++
	c.Revision = f.revision
	f.conversations[c.ID] = c
	return c, nil
}

func (f *fakeRemote) UpdateConversation(_ context.Context, id string, patch model.ConversationPatch) (model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateConversation"); err != nil {
		return model.Conversation{}, err
	}
	c, ok := f.conversations[id]
	if !ok {
		return model.Conversation{}, apperr.NotFound("Conversation")
	}
	patch.ApplyTo(&c)
	f.revision++
	c.Revision = f.revision
	f.conversations[id] = c
	return c, nil
}

func (f *fakeRemote) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteConversation"); err != nil {
		return err
	}
	if _, ok := f.conversations[id]; !ok {
		return apperr.NotFound("Conversation")
	}
	delete(f.conversations, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeRemote) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListMessages"); err != nil {
		return nil, err
	}
	return append([]model.Message{}, f.messages[conversationID]...), nil
}

func (f *fakeRemote) CreateMessage(_ context.Context, m model.Message) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateMessage"); err != nil {
		return model.Message{}, err
	}
	for _, existing := range f.messages[m.ConversationID] {
		if existing.ID == m.ID {
			return existing, nil
		}
	}
	c, ok := f.conversations[m.ConversationID]
	if !ok {
		c = model.Conversation{ID: m.ConversationID, Title: model.DefaultTitle, CreatedAt: m.CreatedAt}
	}
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], m)
	at := m.CreatedAt
	c.LastMessageAt = &at
	c.UpdatedAt = at
	f.revision++
	c.Revision = f.revision
	f.conversations[m.ConversationID] = c
	return m, nil
}

func (f *fakeRemote) UpdateMessage(_ context.Context, id string, patch model.MessagePatch) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateMessage"); err != nil {
		return model.Message{}, err
	}
	for cid, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				patch.ApplyTo(&msgs[i])
				f.messages[cid] = msgs
				return msgs[i], nil
			}
		}
	}
	return model.Message{}, apperr.NotFound("Message")
}

func (f *fakeRemote) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteMessage"); err != nil {
		return err
	}
	for cid, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				f.messages[cid] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return apperr.NotFound("Message")
}

func (f *fakeRemote) ListProjects(context.Context) ([]model.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListProjects"); err != nil {
		return nil, err
	}
	out := []model.ProjectSummary{}
	for _, p := range f.projects {
		n := 0
		for l := range f.links {
			if l.ProjectID == p.ID {
				n++
			}
		}
		out = append(out, model.ProjectSummary{Project: p, ConversationCount: n})
	}
	return out, nil
}

func (f *fakeRemote) ProjectMapping(context.Context) ([]model.ConversationProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ProjectMapping"); err != nil {
		return nil, err
	}
	out := []model.ConversationProject{}
	for l := range f.links {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeRemote) CreateProject(_ context.Context, p model.Project) (model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateProject"); err != nil {
		return model.Project{}, err
	}
	if existing, ok := f.projects[p.ID]; ok {
		return existing, nil
	}
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeRemote) RenameProject(_ context.Context, id, name string) (model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RenameProject"); err != nil {
		return model.Project{}, err
	}
	p, ok := f.projects[id]
	if !ok {
		return model.Project{}, apperr.NotFound("Project")
	}
	p.Name = name
	f.projects[id] = p
	return p, nil
}

func (f *fakeRemote) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteProject"); err != nil {
		return err
	}
	delete(f.projects, id)
	for l := range f.links {
		if l.ProjectID == id {
			delete(f.links, l)
		}
	}
	return nil
}

func (f *fakeRemote) LinkConversation(_ context.Context, projectID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LinkConversation"); err != nil {
		return err
	}
	f.links[model.ConversationProject{ConversationID: conversationID, ProjectID: projectID}] = struct{}{}
	return nil
}

func (f *fakeRemote) UnlinkConversation(_ context.Context, projectID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UnlinkConversation"); err != nil {
		return err
	}
	delete(f.links, model.ConversationProject{ConversationID: conversationID, ProjectID: projectID})
	return nil
}

func (f *fakeRemote) GenerateTitle(_ context.Context, conversationID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GenerateTitle"); err != nil {
		return "", err
	}
	if f.titleErr != nil {
		return "", f.titleErr
	}
	c, ok := f.conversations[conversationID]
	if ok && f.title != model.DefaultTitle {
		c.Title = f.title
		f.conversations[conversationID] = c
	}
	return f.title, nil
}

func (f *fakeRemote) SuggestFollowups(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SuggestFollowups"); err != nil {
		return nil, err
	}
	return []string{"What next?"}, nil
}

type fakeFeed struct {
	mu      sync.Mutex
	version int64
	err     error
}

func (f *fakeFeed) set(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = v
}

func (f *fakeFeed) CurrentVersion(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.err
}

// failingLocal wraps a real store and fails the writes named in failOn.
type failingLocal struct {
	*localstore.Store
	failOn map[string]bool
}

var errDisk = apperr.New(apperr.KindInternal, "disk full")

func (f *failingLocal) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error) {
	if f.failOn["UpdateConversation"] {
		return nil, errDisk
	}
	return f.Store.UpdateConversation(ctx, id, patch)
}

func (f *failingLocal) CreateConversation(ctx context.Context, c model.Conversation) (model.Conversation, error) {
	if f.failOn["CreateConversation"] {
		return model.Conversation{}, errDisk
	}
	return f.Store.CreateConversation(ctx, c)
}

func (f *failingLocal) DeleteConversation(ctx context.Context, id string) error {
	if f.failOn["DeleteConversation"] {
		return errDisk
	}
	return f.Store.DeleteConversation(ctx, id)
}

func (f *failingLocal) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if f.failOn["CreateMessage"] {
		return model.Message{}, errDisk
	}
	return f.Store.CreateMessage(ctx, m)
}
