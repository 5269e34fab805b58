package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamDeliversMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"s":"ETHUSDT","b":"3000.00","a":"3000.05"}`)); err != nil {
			return
		}
		<-ctx.Done()
	}))
	defer server.Close()

	msgCh := make(chan json.RawMessage, 1)
	stream := NewStream(Options{URL: wsURL(server), ReconnectDelay: 10 * time.Millisecond}, zap.NewNop())
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() { _ = stream.Run(runCtx, func(msg json.RawMessage) { msgCh <- msg }) }()

	select {
	case msg := <-msgCh:
		if !strings.Contains(string(msg), "ETHUSDT") {
			t.Fatalf("unexpected message %s", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
	if got := stream.State(); got != StateConnected {
		t.Fatalf("expected CONNECTED, got %s", got)
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	conns := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		if n == 1 {
			// Drop the first connection immediately.
			_ = conn.Close(websocket.StatusGoingAway, "drop")
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"s":"BTCUSDT","b":"1","a":"2"}`))
		<-ctx.Done()
	}))
	defer server.Close()

	msgCh := make(chan json.RawMessage, 1)
	stream := NewStream(Options{URL: wsURL(server), ReconnectDelay: 10 * time.Millisecond}, zap.NewNop())
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() { _ = stream.Run(runCtx, func(msg json.RawMessage) { msgCh <- msg }) }()

	select {
	case <-msgCh:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for reconnect")
	}
	mu.Lock()
	defer mu.Unlock()
	if conns < 2 {
		t.Fatalf("expected a second connection, got %d", conns)
	}
}

func TestStreamRotatesSessionWithoutBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connCh := make(chan int, 4)
	var mu sync.Mutex
	conns := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		select {
		case connCh <- n:
		default:
		}
		// Hold the connection open; the client rotates on its own.
		_, _, _ = conn.Read(ctx)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer server.Close()

	// A reconnect delay far beyond the test deadline proves rotation
	// skips the backoff.
	stream := NewStream(Options{
		URL:            wsURL(server),
		ReconnectDelay: time.Hour,
		SessionMaxAge:  40 * time.Millisecond,
	}, zap.NewNop())
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() { _ = stream.Run(runCtx, nil) }()

	seen := 0
	for seen < 2 {
		select {
		case <-connCh:
			seen++
		case <-ctx.Done():
			t.Fatalf("timed out waiting for session rotation, saw %d connections", seen)
		}
	}
}

func TestStreamStateCallbackAndStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		<-ctx.Done()
	}))
	defer server.Close()

	var mu sync.Mutex
	var states []State
	connected := make(chan struct{}, 1)
	stream := NewStream(Options{URL: wsURL(server), ReconnectDelay: 10 * time.Millisecond}, zap.NewNop())
	stream.OnState(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
		if s == StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- stream.Run(runCtx, nil) }()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for connect")
	}
	runCancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for Run to return")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("unexpected state sequence %v", states)
	}
	if states[len(states)-1] != StateStopped {
		t.Fatalf("expected terminal STOPPED, got %v", states)
	}
	if got := stream.State(); got != StateStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}
}

func TestStreamSurvivesPingCycles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		// Reading is what answers the client's protocol pings.
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		go func() {
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.Write(ctx, websocket.MessageText, []byte(`{"s":"ETHUSDT","b":"1","a":"2"}`)); err != nil {
					return
				}
			}
		}
	}))
	defer server.Close()

	var mu sync.Mutex
	received := 0
	stream := NewStream(Options{
		URL:            wsURL(server),
		ReconnectDelay: 10 * time.Millisecond,
		PingInterval:   15 * time.Millisecond,
	}, zap.NewNop())
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = stream.Run(runCtx, func(json.RawMessage) {
			mu.Lock()
			received++
			mu.Unlock()
		})
	}()

	// Several ping intervals pass while messages keep flowing.
	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	got := received
	mu.Unlock()
	if got < 5 {
		t.Fatalf("expected a steady message flow across ping cycles, got %d", got)
	}
	if state := stream.State(); state != StateConnected {
		t.Fatalf("expected CONNECTED after ping cycles, got %s", state)
	}
}
