// Command chatsync is a headless sync client: it keeps a local replica of
// one user's conversations in sync with a chat-sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"chat-sync/internal/auth"
	"chat-sync/internal/localstore"
	"chat-sync/internal/logging"
	"chat-sync/internal/model"
	"chat-sync/internal/outbox"
	"chat-sync/internal/remote"
	"chat-sync/internal/syncengine"
)

const usage = `usage: chatsync <command> [flags]

commands:
  token   issue a session token (needs the server's master secret)
  sync    hydrate and reconcile once
  run     stay in sync until interrupted
  list    print conversations
  new     create a conversation
  send    send a message to a conversation
`

type options struct {
	server   string
	token    string
	dataDir  string
	logLevel string
	push     bool
	interval time.Duration
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.server, "server", envOr("CHATSYNC_SERVER", "http://localhost:3000"), "server base URL")
	fs.StringVar(&o.token, "token", os.Getenv("CHATSYNC_TOKEN"), "session token")
	fs.StringVar(&o.dataDir, "data", envOr("CHATSYNC_DATA", defaultDataDir()), "directory for the local store and outbox; empty keeps everything in memory")
	fs.StringVar(&o.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level")
	fs.BoolVar(&o.push, "push", true, "listen for version pushes over a websocket")
	fs.DurationVar(&o.interval, "interval", 30*time.Second, "poll interval for run")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chatsync")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "token":
		err = runToken(args)
	case "sync", "run", "list", "new", "send":
		err = runClient(ctx, cmd, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "chatsync:", err)
		os.Exit(1)
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", os.Getenv("MASTER_SECRET"), "server master secret")
	user := fs.String("user", "", "user id")
	expiry := fs.Duration("expiry", 7*24*time.Hour, "token lifetime")
	_ = fs.Parse(args)
	if *secret == "" || *user == "" {
		return errors.New("-secret and -user are required")
	}
	cfg := auth.DefaultTokenConfig(*secret)
	cfg.Expiry = *expiry
	tok, err := auth.CreateToken(*user, cfg)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// client is one opened engine with everything it holds open.
type client struct {
	engine  *syncengine.Engine
	push    *remote.PushFeed
	closers []func()
}

func (c *client) close() {
	c.engine.Close()
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func openClient(ctx context.Context, o options, logger *log.Logger) (*client, error) {
	if o.token == "" {
		return nil, errors.New("a session token is required (-token or CHATSYNC_TOKEN)")
	}
	c := &client{}

	var (
		local *localstore.Store
		queue syncengine.Queue
		err   error
	)
	if o.dataDir == "" {
		local = localstore.Unavailable()
	} else {
		local, err = localstore.Open(ctx, filepath.Join(o.dataDir, "chat.db"))
		if err != nil {
			logger.Warn("local store unavailable, running from memory", "err", err)
			local = localstore.Unavailable()
		} else {
			c.closers = append(c.closers, func() { _ = local.Close() })
		}
		ob, err := outbox.Open(filepath.Join(o.dataDir, "outbox.db"))
		if err != nil {
			logger.Warn("outbox unavailable, failed writes will not be retried", "err", err)
		} else {
			queue = ob
			c.closers = append(c.closers, func() { _ = ob.Close() })
		}
	}

	rc := remote.New(o.server, o.token)
	var feed syncengine.ChangeFeed = remote.PollFeed{Client: rc}
	if o.push {
		c.push = remote.NewPushFeed(rc, logger)
		feed = c.push
	}

	c.engine = syncengine.New(syncengine.Options{
		Local:  local,
		Remote: rc,
		Feed:   feed,
		Outbox: queue,
		Logger: logger,
	})
	return c, nil
}

func runClient(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var o options
	o.register(fs)
	title := fs.String("title", "", "conversation title (new)")
	conversationID := fs.String("conversation", "", "conversation id (send)")
	role := fs.String("role", string(model.RoleUser), "message role (send)")
	archived := fs.Bool("archived", false, "include archived conversations (list)")
	_ = fs.Parse(args)

	logger := logging.New(o.logLevel, "chatsync")
	c, err := openClient(ctx, o, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.engine.Hydrate(ctx); err != nil {
		logger.Warn("server unreachable, showing local data", "err", err)
	}

	switch cmd {
	case "sync":
		fmt.Printf("%d conversations, %d projects\n", len(c.engine.Conversations()), len(c.engine.Projects()))
		return nil
	case "run":
		if c.push != nil {
			go func() { _ = c.push.Run(ctx) }()
		}
		logger.Info("syncing", "server", o.server, "interval", o.interval)
		return c.engine.Run(ctx, o.interval)
	case "list":
		printConversations(c.engine, *archived)
		return nil
	case "new":
		conv, err := c.engine.CreateConversation(ctx, model.Conversation{Title: *title})
		if err != nil && conv.ID == "" {
			return err
		}
		if err != nil {
			logger.Warn("saved locally only", "err", err)
		}
		fmt.Println(conv.ID)
		return nil
	case "send":
		text := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if *conversationID == "" || text == "" {
			return errors.New("send needs -conversation and message text")
		}
		if _, err := c.engine.SendMessage(ctx, model.Message{
			ConversationID: *conversationID,
			Role:           model.Role(*role),
			Content:        text,
		}); err != nil {
			return err
		}
		c.engine.Wait()
		if conv, ok := c.engine.Conversation(*conversationID); ok {
			fmt.Println(conv.Title)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printConversations(e *syncengine.Engine, withArchived bool) {
	for _, c := range e.Conversations() {
		if c.Archived && !withArchived {
			continue
		}
		star := " "
		if c.Starred {
			star = "*"
		}
		last := "-"
		if c.LastMessageAt != nil {
			last = c.LastMessageAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%s %s  %-19s  %s\n", star, c.ID, last, c.Title)
	}
}
