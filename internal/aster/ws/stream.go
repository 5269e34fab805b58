package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateStopped      State = "STOPPED"
)

const dialTimeout = 15 * time.Second

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	SessionMaxAge  time.Duration
}

// Stream owns one websocket connection and keeps it alive. The venue
// subscribes by URL path, so there is no subscribe handshake; the
// stream dials, reads, and hands every frame to the handler.
//
// The venue hard-drops connections after 24h. The stream rotates the
// session itself once the connection is older than SessionMaxAge and
// redials without waiting out the reconnect delay.
type Stream struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	sessionMaxAge  time.Duration
	log            *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	connectedAt time.Time
	state       State
	onState     func(State)
}

func NewStream(opts Options, log *zap.Logger) *Stream {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = 3 * time.Minute
	}
	if opts.SessionMaxAge == 0 {
		opts.SessionMaxAge = 23 * time.Hour
	}
	return &Stream{
		url:            opts.URL,
		reconnectDelay: opts.ReconnectDelay,
		pingInterval:   opts.PingInterval,
		sessionMaxAge:  opts.SessionMaxAge,
		log:            log,
		state:          StateDisconnected,
	}
}

// OnState registers a callback invoked on every state change. Must be
// set before Run.
func (s *Stream) OnState(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run connects and reads until ctx is canceled. Connect failures and
// dropped connections re-enter the dial path after a constant delay;
// session rotations redial immediately. Run only returns the ctx
// error.
func (s *Stream) Run(ctx context.Context, handler func(json.RawMessage)) error {
	for {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				s.setState(StateStopped)
				return ctx.Err()
			}
			s.log.Warn("stream connect failed", zap.String("url", s.url), zap.Error(err))
			if err := s.wait(ctx); err != nil {
				s.setState(StateStopped)
				return err
			}
			continue
		}

		readCtx, cancelRead := context.WithDeadline(ctx, s.sessionDeadline())
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			s.pingLoop(readCtx, s.current())
		}()
		err := s.readLoop(readCtx, handler)
		rotated := errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancelRead()
		<-pingDone
		s.closeConn()

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return ctx.Err()
		}
		s.setState(StateDisconnected)
		if rotated {
			s.log.Info("stream session rotated", zap.Duration("age", s.sessionMaxAge))
			continue
		}
		s.logReadError(err)
		if err := s.wait(ctx); err != nil {
			s.setState(StateStopped)
			return err
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	s.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.connectedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateConnected)
	s.log.Info("stream connected", zap.String("url", s.url))
	return nil
}

func (s *Stream) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	conn := s.current()
	if conn == nil {
		return errors.New("stream not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (s *Stream) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
		return nil
	}
}

// pingLoop keeps the connection warm with protocol-level pings. Server
// pings are answered by the transport as a side effect of the
// concurrent read loop.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if conn == nil || s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Stream) sessionDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt.Add(s.sessionMaxAge)
}

func (s *Stream) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

func (s *Stream) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	fn := s.onState
	s.mu.Unlock()
	if fn != nil && prev != next {
		fn(next)
	}
}

func (s *Stream) logReadError(err error) {
	if s.log == nil || err == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			s.log.Info("stream closed", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		s.log.Info("stream closed", zap.Error(err))
		return
	}
	s.log.Warn("stream read ended", zap.Error(err))
}
