package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ListenKeySource manages the venue's user-stream listen keys,
// normally *rest.Client.
type ListenKeySource interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
	CloseListenKey(ctx context.Context) error
}

type UserStreamOptions struct {
	BaseURL        string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	SessionMaxAge  time.Duration
	KeepAliveEvery time.Duration
}

// UserStream runs one account's user-data stream: it creates a listen
// key, keeps it alive with the venue's 30-minute PUT, and rotates the
// key when the venue expires it.
type UserStream struct {
	keys ListenKeySource
	opts UserStreamOptions
	log  *zap.Logger
}

func NewUserStream(keys ListenKeySource, opts UserStreamOptions, log *zap.Logger) *UserStream {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.KeepAliveEvery == 0 {
		opts.KeepAliveEvery = 30 * time.Minute
	}
	return &UserStream{keys: keys, opts: opts, log: log}
}

// Run blocks until ctx is canceled. Every event except the key
// lifecycle control frames is handed to the handler.
func (u *UserStream) Run(ctx context.Context, handler func(json.RawMessage)) error {
	defer u.closeKey()
	for {
		key, err := u.keys.CreateListenKey(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.log.Warn("listen key create failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.opts.ReconnectDelay):
			}
			continue
		}

		streamCtx, cancel := context.WithCancel(ctx)
		stream := NewStream(Options{
			URL:            strings.TrimRight(u.opts.BaseURL, "/") + "/ws/" + key,
			ReconnectDelay: u.opts.ReconnectDelay,
			PingInterval:   u.opts.PingInterval,
			SessionMaxAge:  u.opts.SessionMaxAge,
		}, u.log)

		keepDone := make(chan struct{})
		go func() {
			defer close(keepDone)
			u.keepAliveLoop(streamCtx, cancel)
		}()

		var rotate sync.Once
		wrapped := func(msg json.RawMessage) {
			if eventType(msg) == "listenKeyExpired" {
				rotate.Do(func() {
					u.log.Info("listen key expired, rotating")
					cancel()
				})
				return
			}
			if handler != nil {
				handler(msg)
			}
		}

		_ = stream.Run(streamCtx, wrapped)
		cancel()
		<-keepDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// keepAliveLoop extends the key on the venue's schedule. Three
// consecutive failures cancel the stream so the outer loop mints a
// fresh key.
func (u *UserStream) keepAliveLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(u.opts.KeepAliveEvery)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keepCtx, keepCancel := context.WithTimeout(ctx, 10*time.Second)
			err := u.keys.KeepAliveListenKey(keepCtx)
			keepCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			u.log.Warn("listen key keepalive failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= 3 {
				cancel()
				return
			}
		}
	}
}

func (u *UserStream) closeKey() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.keys.CloseListenKey(ctx); err != nil {
		u.log.Debug("listen key close failed", zap.Error(err))
	}
}

func eventType(raw json.RawMessage) string {
	var evt struct {
		Event string `json:"e"`
		Data  struct {
			Event string `json:"e"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return ""
	}
	if evt.Event != "" {
		return evt.Event
	}
	return evt.Data.Event
}
