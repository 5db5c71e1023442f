package remote

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"chat-sync/internal/hub"
	"chat-sync/internal/logging"
)

// PollFeed asks the server for the cache version on every call.
type PollFeed struct {
	Client *Client
}

func (f PollFeed) CurrentVersion(ctx context.Context) (int64, error) {
	return f.Client.Version(ctx)
}

// PushFeed keeps a websocket open to the server and remembers the last
// version pushed. While the socket is down CurrentVersion polls instead.
type PushFeed struct {
	client  *Client
	log     *log.Logger
	dialer  *websocket.Dialer
	backoff time.Duration

	mu        sync.Mutex
	connected bool
	version   int64
	have      bool

	changed chan struct{}
}

func NewPushFeed(client *Client, logger *log.Logger) *PushFeed {
	return &PushFeed{
		client:  client,
		log:     logging.OrDiscard(logger),
		dialer:  websocket.DefaultDialer,
		backoff: 2 * time.Second,
		changed: make(chan struct{}, 1),
	}
}

func (f *PushFeed) CurrentVersion(ctx context.Context) (int64, error) {
	f.mu.Lock()
	if f.connected && f.have {
		v := f.version
		f.mu.Unlock()
		return v, nil
	}
	f.mu.Unlock()
	return f.client.Version(ctx)
}

// Changed fires after each pushed version.
func (f *PushFeed) Changed() <-chan struct{} {
	return f.changed
}

// Connected reports whether the socket is up.
func (f *PushFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *PushFeed) socketURL() (string, error) {
	u, err := url.Parse(f.client.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sync/ws"
	q := u.Query()
	q.Set("token", f.client.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run keeps the socket connected until ctx is done, redialing after each
// drop.
func (f *PushFeed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		f.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Debug("version socket dropped", "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.backoff):
		}
	}
}

func (f *PushFeed) session(ctx context.Context) error {
	target, err := f.socketURL()
	if err != nil {
		return err
	}
	conn, _, err := f.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	f.setConnected(true)
	for {
		var msg hub.VersionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type != hub.TypeVersion {
			continue
		}
		f.observe(msg.Version)
	}
}

func (f *PushFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	if !v {
		f.have = false
	}
	f.mu.Unlock()
}

func (f *PushFeed) observe(version int64) {
	f.mu.Lock()
	f.version = version
	f.have = true
	f.mu.Unlock()

	select {
	case f.changed <- struct{}{}:
	default:
	}
}
