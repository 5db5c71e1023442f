package notify

import (
	"context"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"chat-sync/internal/config"
	"chat-sync/internal/logging"
)

// NATSBus publishes versions on a subject shared by all server instances.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	log     *log.Logger
}

func NewNATSBus(cfg config.NATSConfig, logger *log.Logger) (*NATSBus, error) {
	logger = logging.OrDiscard(logger)
	opts := []nats.Option{
		nats.Name("chat-sync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSBus{conn: conn, subject: cfg.Subject, log: logger}, nil
}

func (b *NATSBus) Publish(_ context.Context, version int64) error {
	return b.conn.Publish(b.subject, []byte(strconv.FormatInt(version, 10)))
}

func (b *NATSBus) Subscribe(h Handler) (func(), error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		v, err := strconv.ParseInt(string(msg.Data), 10, 64)
		if err != nil {
			b.log.Warn("dropping malformed version", "data", string(msg.Data))
			return
		}
		h(v)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
