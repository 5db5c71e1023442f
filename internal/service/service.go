// Package service is the server core: it reads through the cache, writes to
// the record store, and for every write invalidates the affected cache
// entries, bumps the global cache version and announces it.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"chat-sync/internal/ai"
	"chat-sync/internal/apperr"
	"chat-sync/internal/cache"
	"chat-sync/internal/logging"
	"chat-sync/internal/model"
	"chat-sync/internal/notify"
	"chat-sync/internal/record"
)

type Options struct {
	Store  record.Store
	Cache  *cache.Cache
	Bus    notify.Bus
	AI     ai.Generator
	Logger *log.Logger
	Now    func() time.Time
}

type Service struct {
	store record.Store
	cache *cache.Cache
	bus   notify.Bus
	ai    ai.Generator
	log   *log.Logger
	now   func() time.Time
}

func New(opts Options) *Service {
	s := &Service{
		store: opts.Store,
		cache: opts.Cache,
		bus:   opts.Bus,
		ai:    opts.AI,
		log:   logging.OrDiscard(opts.Logger),
		now:   opts.Now,
	}
	if s.cache == nil {
		s.cache = cache.New(cache.NullBackend{}, s.log)
	}
	if s.bus == nil {
		s.bus = notify.NewLocalBus()
	}
	if s.ai == nil {
		s.ai = ai.WithFallback(nil, s.log)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// mutated runs after a successful record write: invalidate, bump, announce.
func (s *Service) mutated(ctx context.Context, m cache.Mutation, scope cache.Scope) int64 {
	v := s.cache.Apply(ctx, m, scope)
	if err := s.bus.Publish(ctx, v); err != nil {
		s.log.Warn("version publish failed", "mutation", m, "version", v, "err", err)
	}
	return v
}

func (s *Service) CurrentVersion(ctx context.Context) int64 {
	return s.cache.Versions().Current(ctx)
}

// Ping checks the record store; the cache is optional and never fails a
// health check.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListConversations(ctx context.Context, userID string, q model.ListQuery) (model.ConversationPage, error) {
	q = q.Normalize()
	load := func(ctx context.Context) (model.ConversationPage, error) {
		page, err := s.store.ListConversations(ctx, userID, q)
		if err != nil {
			return model.ConversationPage{}, err
		}
		if !q.Full {
			for i := range page.Conversations {
				page.Conversations[i] = page.Conversations[i].Summary()
			}
		}
		return page, nil
	}
	if !q.IsDefault() {
		return load(ctx)
	}
	return cache.ReadThrough(ctx, s.cache, cache.TitlesKey(userID), cache.TitlesTTL, load)
}

func (s *Service) GetConversation(ctx context.Context, userID, id string) (model.Conversation, error) {
	return s.store.GetConversation(ctx, userID, id)
}

// CreateConversation inserts or ignores on id. Only an actual insert counts
// as a mutation.
func (s *Service) CreateConversation(ctx context.Context, userID string, c model.Conversation) (model.Conversation, bool, error) {
	if c.ID == "" {
		return model.Conversation{}, false, apperr.InvalidInput("id is required")
	}
	c.UserID = userID
	c.Title = strings.TrimSpace(c.Title)
	stored, created, err := s.store.InsertConversation(ctx, c)
	if err != nil {
		return model.Conversation{}, false, err
	}
	if created {
		s.mutated(ctx, cache.ConversationCreated, cache.Scope{UserID: userID, ConversationID: stored.ID})
	}
	return stored, created, nil
}

func (s *Service) UpdateConversation(ctx context.Context, userID, id string, patch model.ConversationPatch) (model.Conversation, error) {
	patch.Revision = nil
	patch.UpdatedAt = nil
	if patch.Empty() {
		return model.Conversation{}, apperr.InvalidInput("no fields to update")
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return model.Conversation{}, apperr.InvalidInput("title must not be empty")
		}
		patch.Title = &title
	}
	c, err := s.store.UpdateConversation(ctx, userID, id, patch)
	if err != nil {
		return model.Conversation{}, err
	}
	s.mutated(ctx, cache.ConversationUpdated, cache.Scope{UserID: userID, ConversationID: id})
	return c, nil
}

func (s *Service) DeleteConversation(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteConversation(ctx, userID, id); err != nil {
		return err
	}
	s.mutated(ctx, cache.ConversationDeleted, cache.Scope{UserID: userID, ConversationID: id})
	return nil
}

func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]model.Message, error) {
	return s.store.ListMessages(ctx, userID, conversationID)
}

// CreateMessage appends a message, creating the conversation first when the
// client has not synced it yet. The whole operation is one mutation.
func (s *Service) CreateMessage(ctx context.Context, userID, conversationID string, m model.Message) (model.Message, error) {
	if !m.Role.Valid() {
		return model.Message{}, apperr.InvalidInput("invalid role")
	}
	m.ConversationID = conversationID

	_, convCreated, err := s.store.InsertConversation(ctx, model.Conversation{
		ID:        conversationID,
		UserID:    userID,
		Title:     model.DefaultTitle,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		return model.Message{}, err
	}

	stored, msgCreated, err := s.store.InsertMessage(ctx, userID, m)
	if err != nil {
		if convCreated {
			s.mutated(ctx, cache.ConversationCreated, cache.Scope{UserID: userID, ConversationID: conversationID})
		}
		return model.Message{}, err
	}
	if convCreated || msgCreated {
		s.mutated(ctx, cache.MessageCreated, cache.Scope{UserID: userID, ConversationID: conversationID})
	}
	return stored, nil
}

func (s *Service) UpdateMessage(ctx context.Context, userID, id string, patch model.MessagePatch) (model.Message, error) {
	if patch.Content == nil && patch.MetaJSON == nil {
		return model.Message{}, apperr.InvalidInput("no fields to update")
	}
	m, err := s.store.UpdateMessage(ctx, userID, id, patch)
	if err != nil {
		return model.Message{}, err
	}
	s.mutated(ctx, cache.MessageUpdated, cache.Scope{UserID: userID, ConversationID: m.ConversationID})
	return m, nil
}

func (s *Service) DeleteMessage(ctx context.Context, userID, id string) error {
	m, err := s.store.DeleteMessage(ctx, userID, id)
	if err != nil {
		return err
	}
	s.mutated(ctx, cache.MessageDeleted, cache.Scope{UserID: userID, ConversationID: m.ConversationID})
	return nil
}

// previewEntry carries the owner so a preview cached under a conversation id
// is never served to another user.
type previewEntry struct {
	UserID  string        `json:"userId"`
	Preview model.Preview `json:"preview"`
}

const previewScan = 10

func (s *Service) Preview(ctx context.Context, userID, conversationID string) (model.Preview, error) {
	entry, err := cache.ReadThrough(ctx, s.cache, cache.PreviewKey(conversationID), cache.PreviewTTL,
		func(ctx context.Context) (previewEntry, error) {
			msgs, err := s.store.FirstMessages(ctx, userID, conversationID, previewScan)
			if err != nil {
				return previewEntry{}, err
			}
			return previewEntry{UserID: userID, Preview: firstExchange(conversationID, msgs)}, nil
		})
	if err != nil {
		return model.Preview{}, err
	}
	if entry.UserID != userID {
		return model.Preview{}, apperr.NotFound("Conversation")
	}
	return entry.Preview, nil
}

// firstExchange picks the first user message and the first assistant reply
// after it.
func firstExchange(conversationID string, msgs []model.Message) model.Preview {
	p := model.Preview{ConversationID: conversationID}
	for i := range msgs {
		m := msgs[i]
		switch {
		case p.User == nil && m.Role == model.RoleUser:
			p.User = &m
		case p.User != nil && p.Assistant == nil && m.Role == model.RoleAssistant:
			p.Assistant = &m
		}
		if p.User != nil && p.Assistant != nil {
			break
		}
	}
	return p
}
