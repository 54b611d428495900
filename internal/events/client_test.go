package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHandler) HandleMessage(_ context.Context, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, string(raw))
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientSubscribesAndDispatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscriptions := make(chan subscribeMessage, 4)
	var auth atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for range 2 {
			var msg subscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscriptions <- msg
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task.created","data":{"id":"t1","mainthread_id":"th1"}}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"plan.updated","data":{"id":"p1"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	handler := &recordingHandler{}
	client := NewClient(wsURL(srv), "tok", []string{"room:r1", "base:b1"}, handler, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return handler.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, client.Connected())
	assert.Equal(t, "Bearer tok", auth.Load())
	assert.Equal(t, subscribeMessage{Type: "subscribe", Channel: "room:r1"}, <-subscriptions)
	assert.Equal(t, subscribeMessage{Type: "subscribe", Channel: "base:b1"}, <-subscriptions)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop after cancel")
	}
	assert.False(t, client.Connected())
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task.created","data":{"id":"t`+string(rune('0'+n))+`"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		_ = conn.Close()
	}))
	defer srv.Close()

	handler := &recordingHandler{}
	client := NewClient(wsURL(srv), "", nil, handler, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool { return connections.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return handler.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientStopsWhileServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	client := NewClient(url, "", nil, &recordingHandler{}, 5*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, client.Run(ctx))
	assert.False(t, client.Connected())
}
