// Package remote is the client side of the server's HTTP API. Client
// implements the sync engine's Remote; PollFeed and PushFeed implement its
// ChangeFeed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-sync/internal/apperr"
	"chat-sync/internal/model"
)

type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error string `json:"error"`
}

// statusError maps a failed response onto the shared error kinds.
func statusError(status int, body []byte) error {
	var eb errorBody
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, msg)
	case status == http.StatusConflict:
		return apperr.New(apperr.KindInvalidState, msg)
	case status == http.StatusBadRequest:
		return apperr.New(apperr.KindInvalidInput, msg)
	case status == http.StatusUnauthorized:
		return apperr.New(apperr.KindUnauthorized, msg)
	}
	return apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("server returned %d: %s", status, msg))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError(resp.StatusCode, snippet)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "undecodable server response", err)
	}
	return nil
}

// ListConversations walks every page of the full listing, archived
// included.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	out := []model.Conversation{}
	seen := make(map[string]struct{})
	var (
		cursor   *time.Time
		cursorID string
	)
	for {
		q := url.Values{}
		q.Set("full", "true")
		q.Set("archived", "all")
		q.Set("limit", strconv.Itoa(model.MaxPageSize))
		if cursor != nil {
			q.Set("cursor", cursor.UTC().Format(time.RFC3339Nano))
			if cursorID != "" {
				q.Set("cursorId", cursorID)
			}
		}
		var page model.ConversationPage
		if err := c.do(ctx, http.MethodGet, "/api/conversations?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, conv := range page.Conversations {
			if _, dup := seen[conv.ID]; dup {
				continue
			}
			seen[conv.ID] = struct{}{}
			out = append(out, conv)
		}
		if !page.HasMore || page.NextCursor == nil {
			return out, nil
		}
		cursor = page.NextCursor
		cursorID = page.NextCursorID
	}
}

// ListPage fetches one page of the listing as given by q.
func (c *Client) ListPage(ctx context.Context, q model.ListQuery) (model.ConversationPage, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != nil {
		v.Set("cursor", q.Cursor.UTC().Format(time.RFC3339Nano))
		if q.CursorID != "" {
			v.Set("cursorId", q.CursorID)
		}
	}
	if q.Starred != nil {
		v.Set("starred", strconv.FormatBool(*q.Starred))
	}
	switch q.Archived {
	case model.ArchivedOnly:
		v.Set("archived", "true")
	case model.ArchivedAny:
		v.Set("archived", "all")
	}
	if q.Full {
		v.Set("full", "true")
	}
	if q.SinceRevision != nil {
		v.Set("sinceRevision", strconv.FormatInt(*q.SinceRevision, 10))
	}
	path := "/api/conversations"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var page model.ConversationPage
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

type conversationEnvelope struct {
	Conversation model.Conversation `json:"conversation"`
}

type createConversationBody struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   *string   `json:"modelId,omitempty"`
	Starred   bool      `json:"starred"`
	Archived  bool      `json:"archived"`
	IsPublic  bool      `json:"isPublic"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Client) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	body := createConversationBody{
		ID:        conv.ID,
		Title:     conv.Title,
		ModelID:   conv.ModelID,
		Starred:   conv.Starred,
		Archived:  conv.Archived,
		IsPublic:  conv.IsPublic,
		CreatedAt: conv.CreatedAt,
	}
	var out conversationEnvelope
	err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out)
	return out.Conversation, err
}

func (c *Client) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var out conversationEnvelope
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &out)
	return out.Conversation, err
}

func (c *Client) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error) {
	var out conversationEnvelope
	err := c.do(ctx, http.MethodPatch, "/api/conversations/"+url.PathEscape(id), patch, &out)
	return out.Conversation, err
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Branch(ctx context.Context, conversationID, messageID string) (model.Conversation, error) {
	var out conversationEnvelope
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/branch",
		map[string]string{"messageId": messageID}, &out)
	return out.Conversation, err
}

func (c *Client) Preview(ctx context.Context, conversationID string) (model.Preview, error) {
	var out struct {
		Preview model.Preview `json:"preview"`
	}
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/preview", nil, &out)
	return out.Preview, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	return out.Messages, nil
}

type createMessageBody struct {
	ID        string     `json:"id"`
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	ClientID  *string    `json:"clientId,omitempty"`
	MetaJSON  *string    `json:"metaJson,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type messageEnvelope struct {
	Message model.Message `json:"message"`
}

func (c *Client) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	body := createMessageBody{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		ClientID:  m.ClientID,
		MetaJSON:  m.MetaJSON,
		CreatedAt: m.CreatedAt,
	}
	var out messageEnvelope
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(m.ConversationID)+"/messages", body, &out)
	return out.Message, err
}

func (c *Client) UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error) {
	var out messageEnvelope
	err := c.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(id), patch, &out)
	return out.Message, err
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListProjects(ctx context.Context) ([]model.ProjectSummary, error) {
	var out struct {
		Projects []model.ProjectSummary `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

func (c *Client) ProjectMapping(ctx context.Context) ([]model.ConversationProject, error) {
	var out struct {
		Mapping []model.ConversationProject `json:"mapping"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/projects/mapping", nil, &out); err != nil {
		return nil, err
	}
	return out.Mapping, nil
}

type projectEnvelope struct {
	Project model.Project `json:"project"`
}

func (c *Client) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	var out projectEnvelope
	err := c.do(ctx, http.MethodPost, "/api/projects", map[string]string{"id": p.ID, "name": p.Name}, &out)
	return out.Project, err
}

func (c *Client) RenameProject(ctx context.Context, id, name string) (model.Project, error) {
	var out projectEnvelope
	err := c.do(ctx, http.MethodPatch, "/api/projects/"+url.PathEscape(id), map[string]string{"name": name}, &out)
	return out.Project, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil)
}

func (c *Client) LinkConversation(ctx context.Context, projectID, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/conversations",
		map[string]string{"conversationId": conversationID}, nil)
}

func (c *Client) UnlinkConversation(ctx context.Context, projectID, conversationID string) error {
	return c.do(ctx, http.MethodDelete,
		"/api/projects/"+url.PathEscape(projectID)+"/conversations/"+url.PathEscape(conversationID), nil, nil)
}

func (c *Client) ListShares(ctx context.Context) ([]model.SharedItem, error) {
	var out struct {
		Shares []model.SharedItem `json:"shares"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/shares", nil, &out); err != nil {
		return nil, err
	}
	return out.Shares, nil
}

func (c *Client) CreateShare(ctx context.Context, conversationID string) (model.SharedItem, error) {
	var out struct {
		Share model.SharedItem `json:"share"`
	}
	err := c.do(ctx, http.MethodPost, "/api/shares", map[string]string{"conversationId": conversationID}, &out)
	return out.Share, err
}

func (c *Client) DeleteShare(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/shares/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GenerateTitle(ctx context.Context, conversationID string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/title", nil, &out)
	return out.Title, err
}

func (c *Client) SuggestFollowups(ctx context.Context, conversationID string) ([]string, error) {
	var out struct {
		Followups []string `json:"followups"`
	}
	err := c.do(ctx, http.MethodPost, "/api/followups", map[string]string{"conversationId": conversationID}, &out)
	return out.Followups, err
}

// Version reads the server's global cache version.
func (c *Client) Version(ctx context.Context) (int64, error) {
	var out struct {
		Version int64 `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sync/version", nil, &out)
	return out.Version, err
}
