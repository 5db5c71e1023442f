package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/ai"
	"chat-sync/internal/apperr"
	"chat-sync/internal/cache"
	"chat-sync/internal/model"
	"chat-sync/internal/notify"
	"chat-sync/internal/record"
)

type stubAI struct {
	title     string
	followups []string
	err       error
}

func (s stubAI) GenerateTitle(context.Context, []model.Message) (string, error) {
	return s.title, s.err
}

func (s stubAI) SuggestFollowups(context.Context, []model.Message) ([]string, error) {
	return s.followups, s.err
}

type harness struct {
	svc     *Service
	store   *record.MemoryStore
	backend *cache.MemoryBackend
	cache   *cache.Cache

	mu        sync.Mutex
	published []int64
}

func (h *harness) versions() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.published...)
}

var now = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, gen ai.Generator) *harness {
	t.Helper()
	h := &harness{
		store:   record.NewMemoryStoreWithNow(func() time.Time { return now }),
		backend: cache.NewMemoryBackend(),
	}
	h.cache = cache.New(h.backend, nil)
	bus := notify.NewLocalBus()
	_, err := bus.Subscribe(func(v int64) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.published = append(h.published, v)
	})
	require.NoError(t, err)
	h.svc = New(Options{
		Store: h.store,
		Cache: h.cache,
		Bus:   bus,
		AI:    ai.WithFallback(gen, nil),
		Now:   func() time.Time { return now },
	})
	return h
}

func (h *harness) cached(key string) bool {
	_, ok, _ := h.backend.Get(context.Background(), key)
	return ok
}

func createConversation(t *testing.T, h *harness, userID string) model.Conversation {
	t.Helper()
	c, created, err := h.svc.CreateConversation(context.Background(), userID, model.Conversation{ID: uuid.NewString(), Title: "chat"})
	require.NoError(t, err)
	require.True(t, created)
	return c
}

func TestCreateConversation_IdempotentAndBumpsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := uuid.NewString()

	_, created, err := h.svc.CreateConversation(ctx, "u1", model.Conversation{ID: id})
	require.NoError(t, err)
	assert.True(t, created)
	c, created, err := h.svc.CreateConversation(ctx, "u1", model.Conversation{ID: id, Title: "again"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.DefaultTitle, c.Title)

	assert.Equal(t, []int64{1}, h.versions())
	assert.Equal(t, int64(1), h.svc.CurrentVersion(ctx))
}

func TestCreateConversation_RequiresID(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.svc.CreateConversation(context.Background(), "u1", model.Conversation{})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

func TestListConversations_TitleCacheReadThroughAndInvalidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	modelID := "m1"
	_, _, err := h.svc.CreateConversation(ctx, "u1", model.Conversation{ID: uuid.NewString(), ModelID: &modelID})
	require.NoError(t, err)

	page, err := h.svc.ListConversations(ctx, "u1", model.ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	row := page.Conversations[0]
	assert.Nil(t, row.ModelID, "title listing is the lightweight projection")
	assert.True(t, row.CreatedAt.IsZero())
	assert.True(t, row.UpdatedAt.IsZero())
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, model.DefaultTitle, row.Title)
	assert.Positive(t, row.Revision)

	raw, err := json.Marshal(row)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "createdAt")
	assert.NotContains(t, string(raw), "modelId")
	assert.True(t, h.cached(cache.TitlesKey("u1")))

	createConversation(t, h, "u1")
	assert.False(t, h.cached(cache.TitlesKey("u1")))

	page, err = h.svc.ListConversations(ctx, "u1", model.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 2)
}

func TestListConversations_NonDefaultQueriesBypassCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	createConversation(t, h, "u1")

	page, err := h.svc.ListConversations(ctx, "u1", model.ListQuery{Full: true, Archived: model.ArchivedAny})
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.False(t, h.cached(cache.TitlesKey("u1")))
}

func TestUpdateConversation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	h.cache.SetJSON(ctx, cache.PreviewKey(c.ID), "p", cache.PreviewTTL)
	h.cache.SetJSON(ctx, cache.SharedKey("u1"), "s", cache.SharedTTL)

	archived := true
	updated, err := h.svc.UpdateConversation(ctx, "u1", c.ID, model.ConversationPatch{Archived: &archived})
	require.NoError(t, err)
	assert.True(t, updated.Archived)
	assert.Greater(t, updated.Revision, c.Revision)
	assert.False(t, h.cached(cache.PreviewKey(c.ID)))
	assert.False(t, h.cached(cache.SharedKey("u1")))

	_, err = h.svc.UpdateConversation(ctx, "u1", c.ID, model.ConversationPatch{})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	blank := "  "
	_, err = h.svc.UpdateConversation(ctx, "u1", c.ID, model.ConversationPatch{Title: &blank})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	_, err = h.svc.UpdateConversation(ctx, "u2", c.ID, model.ConversationPatch{Archived: &archived})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Len(t, h.versions(), 2, "failed writes do not bump the version")
}

func TestDeleteConversation_InvalidatesEverything(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	for _, key := range []string{cache.TitlesKey("u1"), cache.PreviewKey(c.ID), cache.ProjectsKey("u1"), cache.ProjectMetaKey("u1"), cache.SharedKey("u1")} {
		h.cache.SetJSON(ctx, key, "x", time.Minute)
	}

	require.NoError(t, h.svc.DeleteConversation(ctx, "u1", c.ID))
	for _, key := range []string{cache.TitlesKey("u1"), cache.PreviewKey(c.ID), cache.ProjectsKey("u1"), cache.ProjectMetaKey("u1"), cache.SharedKey("u1")} {
		assert.False(t, h.cached(key), key)
	}
	err := h.svc.DeleteConversation(ctx, "u1", c.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateMessage_ImplicitConversation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	convID := uuid.NewString()

	m, err := h.svc.CreateMessage(ctx, "u1", convID, model.Message{ID: uuid.NewString(), Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, convID, m.ConversationID)

	c, err := h.svc.GetConversation(ctx, "u1", convID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, c.Title)
	require.NotNil(t, c.LastMessageAt)
	assert.True(t, m.CreatedAt.Equal(*c.LastMessageAt))
	assert.Equal(t, []int64{1}, h.versions(), "implicit create and message are one mutation")

	_, err = h.svc.CreateMessage(ctx, "u1", convID, m)
	require.NoError(t, err)
	assert.Len(t, h.versions(), 1, "replaying a message id is not a mutation")

	_, err = h.svc.CreateMessage(ctx, "u1", convID, model.Message{Role: "robot", Content: "x"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	m, err := h.svc.CreateMessage(ctx, "u1", c.ID, model.Message{Role: model.RoleAssistant, Content: "draft"})
	require.NoError(t, err)

	h.cache.SetJSON(ctx, cache.PreviewKey(c.ID), "p", cache.PreviewTTL)
	content := "final"
	updated, err := h.svc.UpdateMessage(ctx, "u1", m.ID, model.MessagePatch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Content)
	assert.False(t, h.cached(cache.PreviewKey(c.ID)))

	_, err = h.svc.UpdateMessage(ctx, "u1", m.ID, model.MessagePatch{})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	require.NoError(t, h.svc.DeleteMessage(ctx, "u1", m.ID))
	msgs, err := h.svc.ListMessages(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPreview_FirstExchangeAndOwnerCheck(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	for i, role := range []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleUser} {
		_, err := h.svc.CreateMessage(ctx, "u1", c.ID, model.Message{
			Role: role, Content: string(role), CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	p, err := h.svc.Preview(ctx, "u1", c.ID)
	require.NoError(t, err)
	require.NotNil(t, p.User)
	require.NotNil(t, p.Assistant)
	assert.Equal(t, "user", p.User.Content)
	assert.Equal(t, "assistant", p.Assistant.Content)
	assert.True(t, h.cached(cache.PreviewKey(c.ID)))

	_, err = h.svc.Preview(ctx, "u2", c.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "cached preview must not leak to other users")
}

func TestBranch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")

	var ids []string
	for i, role := range []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant} {
		m, err := h.svc.CreateMessage(ctx, "u1", c.ID, model.Message{
			Role: role, Content: string(role), CreatedAt: now.Add(-time.Hour + time.Duration(i)*time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	branch, err := h.svc.Branch(ctx, "u1", c.ID, ids[1])
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, branch.ID)
	assert.Equal(t, c.Title, branch.Title)

	msgs, err := h.svc.ListMessages(ctx, "u1", branch.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, now.Equal(msgs[0].CreatedAt))
	assert.True(t, now.Add(time.Second).Equal(msgs[1].CreatedAt))
	assert.NotEqual(t, ids[0], msgs[0].ID)
	require.NotNil(t, branch.LastMessageAt)
	assert.True(t, msgs[1].CreatedAt.Equal(*branch.LastMessageAt))

	_, err = h.svc.Branch(ctx, "u1", c.ID, ids[2])
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
	_, err = h.svc.Branch(ctx, "u1", c.ID, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = h.svc.Branch(ctx, "u2", c.ID, ids[1])
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestProjects_CacheAndMutations(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")

	p, err := h.svc.CreateProject(ctx, "u1", model.Project{Name: " work "})
	require.NoError(t, err)
	assert.Equal(t, "work", p.Name)

	_, err = h.svc.CreateProject(ctx, "u1", model.Project{Name: ""})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	list, err := h.svc.ListProjects(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, h.cached(cache.ProjectsKey("u1")))

	require.NoError(t, h.svc.LinkConversation(ctx, "u1", p.ID, c.ID))
	assert.False(t, h.cached(cache.ProjectsKey("u1")))

	mapping, err := h.svc.ProjectMapping(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []model.ConversationProject{{ConversationID: c.ID, ProjectID: p.ID}}, mapping)

	list, err = h.svc.ListProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].ConversationCount)

	renamed, err := h.svc.RenameProject(ctx, "u1", p.ID, "office")
	require.NoError(t, err)
	assert.Equal(t, "office", renamed.Name)

	projects, err := h.svc.ProjectsForConversation(ctx, "u1", c.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	require.NoError(t, h.svc.UnlinkConversation(ctx, "u1", p.ID, c.ID))
	require.NoError(t, h.svc.DeleteProject(ctx, "u1", p.ID))
	list, err = h.svc.ListProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestShares(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	_, err := h.svc.CreateMessage(ctx, "u1", c.ID, model.Message{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	sh, err := h.svc.CreateShare(ctx, "u1", c.ID)
	require.NoError(t, err)

	list, err := h.svc.ListShares(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "chat", list[0].Title)

	view, err := h.svc.SharedConversation(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, view.Conversation.ID)
	assert.Len(t, view.Messages, 1)

	_, err = h.svc.CreateShare(ctx, "u2", c.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, h.svc.DeleteShare(ctx, "u1", sh.ID))
	_, err = h.svc.SharedConversation(ctx, sh.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGenerateTitle(t *testing.T) {
	h := newHarness(t, stubAI{title: "Bread basics"})
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	h.cache.SetJSON(ctx, cache.SharedKey("u1"), "s", cache.SharedTTL)

	updated, err := h.svc.GenerateTitle(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bread basics", updated.Title)
	assert.False(t, h.cached(cache.SharedKey("u1")))
}

func TestGenerateTitle_FallsBack(t *testing.T) {
	ctx := context.Background()
	for name, gen := range map[string]ai.Generator{
		"error": stubAI{err: errors.New("upstream down")},
		"blank": stubAI{title: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, gen)
			c := createConversation(t, h, "u1")
			title := "Porto weekend"
			_, err := h.svc.UpdateConversation(ctx, "u1", c.ID, model.ConversationPatch{Title: &title})
			require.NoError(t, err)
			published := len(h.versions())

			got, err := h.svc.GenerateTitle(ctx, "u1", c.ID)
			require.NoError(t, err)
			assert.Equal(t, "Porto weekend", got.Title)
			assert.Len(t, h.versions(), published)

			stored, err := h.store.GetConversation(ctx, "u1", c.ID)
			require.NoError(t, err)
			assert.Equal(t, "Porto weekend", stored.Title)
		})
	}

	// A conversation still on the placeholder keeps it.
	h := newHarness(t, stubAI{err: errors.New("upstream down")})
	c, _, err := h.svc.CreateConversation(ctx, "u1", model.Conversation{ID: uuid.NewString()})
	require.NoError(t, err)
	got, err := h.svc.GenerateTitle(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, got.Title)
}

func TestGenerateTitle_UnknownConversation(t *testing.T) {
	h := newHarness(t, stubAI{title: "Bread basics"})
	_, err := h.svc.GenerateTitle(context.Background(), "u1", "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSuggestFollowups(t *testing.T) {
	h := newHarness(t, stubAI{followups: []string{"a", "b", "c", "d", "e", "f", "g"}})
	ctx := context.Background()
	c := createConversation(t, h, "u1")
	_, err := h.svc.CreateMessage(ctx, "u1", c.ID, model.Message{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	out, err := h.svc.SuggestFollowups(ctx, "u1", FollowupRequest{ConversationID: c.ID})
	require.NoError(t, err)
	assert.Len(t, out, ai.MaxFollowups)

	_, err = h.svc.SuggestFollowups(ctx, "u1", FollowupRequest{})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	failing := newHarness(t, stubAI{err: errors.New("boom")})
	out, err = failing.svc.SuggestFollowups(ctx, "u1", FollowupRequest{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCurrentVersion_NullCacheAlwaysChanges(t *testing.T) {
	svc := New(Options{Store: record.NewMemoryStore()})
	ctx := context.Background()
	first := svc.CurrentVersion(ctx)
	time.Sleep(2 * time.Millisecond)
	assert.NotEqual(t, first, svc.CurrentVersion(ctx))
}
