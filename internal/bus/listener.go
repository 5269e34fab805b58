package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const reconnectWait = 2 * time.Second

// Listener owns the NATS subscription and feeds raw payloads to the
// handler. Each message is processed on its own goroutine so a slow
// trade never delays delivery of the next signal.
type Listener struct {
	url     string
	subject string
	handler *Handler
	log     *zap.Logger
}

func NewListener(url, subject string, h *Handler, log *zap.Logger) *Listener {
	return &Listener{url: url, subject: subject, handler: h, log: log}
}

// Run connects, subscribes, and blocks until ctx is canceled. The
// client reconnects on its own indefinitely; only ctx ends the run.
func (l *Listener) Run(ctx context.Context) error {
	nc, err := nats.Connect(l.url,
		nats.Name("aster-fleet-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.log.Warn("bus disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.log.Info("bus reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", l.url, err)
	}
	defer nc.Close()

	var wg sync.WaitGroup
	sub, err := nc.Subscribe(l.subject, func(msg *nats.Msg) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handler.Handle(ctx, msg.Data)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}

	l.log.Info("bus listening", zap.String("url", l.url), zap.String("subject", l.subject))
	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		l.log.Warn("bus unsubscribe failed", zap.Error(err))
	}
	wg.Wait()
	l.log.Info("bus stopped")
	return ctx.Err()
}
