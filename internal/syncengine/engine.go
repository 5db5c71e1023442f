// Package syncengine holds the client's in-memory view of conversations,
// messages and projects. It hydrates from the local store before touching
// the network, applies mutations optimistically with rollback, and
// reconciles with the server whenever the cache version moves.
package syncengine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"chat-sync/internal/localstore"
	"chat-sync/internal/logging"
	"chat-sync/internal/model"
	"chat-sync/internal/outbox"
)

type State int32

const (
	Uninitialized State = iota
	Hydrating
	Hydrated
)

func (s State) String() string {
	switch s {
	case Hydrating:
		return "hydrating"
	case Hydrated:
		return "hydrated"
	}
	return "uninitialized"
}

// LocalStore is the on-device replica. *localstore.Store implements it.
type LocalStore interface {
	Hydrate(ctx context.Context) (localstore.Snapshot, error)
	CreateConversation(ctx context.Context, c model.Conversation) (model.Conversation, error)
	UpsertConversation(ctx context.Context, c model.Conversation) (model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	GetMessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	CreateMessage(ctx context.Context, m model.Message) (model.Message, error)
	UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error
	UpsertProject(ctx context.Context, p model.Project) (model.Project, error)
	UpdateProject(ctx context.Context, id, name string) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error
	AddConversationToProject(ctx context.Context, conversationID, projectID string) error
	RemoveConversationFromProject(ctx context.Context, conversationID, projectID string) error
	ReplaceLinks(ctx context.Context, links []model.ConversationProject) error
}

// Remote is the server API as the engine uses it.
type Remote interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, c model.Conversation) (model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	CreateMessage(ctx context.Context, m model.Message) (model.Message, error)
	UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]model.ProjectSummary, error)
	ProjectMapping(ctx context.Context) ([]model.ConversationProject, error)
	CreateProject(ctx context.Context, p model.Project) (model.Project, error)
	RenameProject(ctx context.Context, id, name string) (model.Project, error)
	DeleteProject(ctx context.Context, id string) error
	LinkConversation(ctx context.Context, projectID, conversationID string) error
	UnlinkConversation(ctx context.Context, projectID, conversationID string) error
	GenerateTitle(ctx context.Context, conversationID string) (string, error)
	SuggestFollowups(ctx context.Context, conversationID string) ([]string, error)
}

// ChangeFeed reports the server's global cache version.
type ChangeFeed interface {
	CurrentVersion(ctx context.Context) (int64, error)
}

// Notifier is implemented by feeds that learn about new versions without
// being asked; Run wakes on it between ticks.
type Notifier interface {
	Changed() <-chan struct{}
}

// Queue keeps failed server writes for replay. *outbox.Outbox implements
// it.
type Queue interface {
	Add(op outbox.Op, conversationID, targetID string, payload any) (outbox.Entry, error)
	List() ([]outbox.Entry, error)
	Remove(seq uint64) error
	MarkFailed(seq uint64, cause error) error
	PendingConversations() (map[string]struct{}, error)
}

type Options struct {
	Local  LocalStore
	Remote Remote
	Feed   ChangeFeed
	// Outbox is optional. Without it failed background writes are only
	// logged.
	Outbox         Queue
	Logger         *log.Logger
	Now            func() time.Time
	RequestTimeout time.Duration
}

type Engine struct {
	local   LocalStore
	remote  Remote
	feed    ChangeFeed
	outbox  Queue
	log     *log.Logger
	now     func() time.Time
	timeout time.Duration

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once

	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	projects      map[string]model.Project
	links         map[model.ConversationProject]struct{}
	titleLoading  map[string]struct{}

	versionMu   sync.Mutex
	lastVersion int64
	haveVersion bool
	syncMu      sync.Mutex

	writer *writer
}

func New(opts Options) *Engine {
	e := &Engine{
		local:         opts.Local,
		remote:        opts.Remote,
		feed:          opts.Feed,
		outbox:        opts.Outbox,
		log:           logging.OrDiscard(opts.Logger),
		now:           opts.Now,
		timeout:       opts.RequestTimeout,
		ready:         make(chan struct{}),
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string][]model.Message),
		projects:      make(map[string]model.Project),
		links:         make(map[model.ConversationProject]struct{}),
		titleLoading:  make(map[string]struct{}),
	}
	if e.local == nil {
		e.local = localstore.Unavailable()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	e.writer = newWriter(e.runJob)
	return e
}

// Close stops the background writer after it drains queued writes.
func (e *Engine) Close() {
	e.writer.close()
}

// Wait blocks until every queued background write has finished.
func (e *Engine) Wait() {
	e.writer.wait()
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Ready is closed once local data is in memory.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) markHydrated() {
	e.state.Store(int32(Hydrated))
	e.readyOnce.Do(func() { close(e.ready) })
}

func (e *Engine) LastVersion() (int64, bool) {
	e.versionMu.Lock()
	defer e.versionMu.Unlock()
	return e.lastVersion, e.haveVersion
}

func (e *Engine) setVersion(v int64) {
	e.versionMu.Lock()
	defer e.versionMu.Unlock()
	e.lastVersion = v
	e.haveVersion = true
}

func (e *Engine) stamp() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}

// sortConversations orders by most recent message; conversations without
// messages sort last.
func sortConversations(list []model.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (e *Engine) Conversations() []model.Conversation {
	e.mu.RLock()
	out := make([]model.Conversation, 0, len(e.conversations))
	for _, c := range e.conversations {
		out = append(out, c)
	}
	e.mu.RUnlock()
	sortConversations(out)
	return out
}

func (e *Engine) Conversation(id string) (model.Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.conversations[id]
	return c, ok
}

// Messages returns the loaded messages of a conversation. See LoadMessages.
func (e *Engine) Messages(conversationID string) []model.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Message(nil), e.messages[conversationID]...)
}

func (e *Engine) Projects() []model.Project {
	e.mu.RLock()
	out := make([]model.Project, 0, len(e.projects))
	for _, p := range e.projects {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) ProjectsFor(conversationID string) []model.Project {
	e.mu.RLock()
	var out []model.Project
	for l := range e.links {
		if l.ConversationID != conversationID {
			continue
		}
		if p, ok := e.projects[l.ProjectID]; ok {
			out = append(out, p)
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) ConversationsIn(projectID string) []model.Conversation {
	e.mu.RLock()
	var out []model.Conversation
	for l := range e.links {
		if l.ProjectID != projectID {
			continue
		}
		if c, ok := e.conversations[l.ConversationID]; ok {
			out = append(out, c)
		}
	}
	e.mu.RUnlock()
	sortConversations(out)
	return out
}

// TitleLoading reports whether a title is being generated for id.
func (e *Engine) TitleLoading(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.titleLoading[id]
	return ok
}
