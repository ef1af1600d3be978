package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/logger"
)

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()
	hub := NewHubService(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn, r.URL.Query().Get("session"))
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.done
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + session
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_EventsStayWithinSession(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish("a", "detection", map[string]int{"count": 3})

	a.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	var ev struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "detection", ev.Type)
	assert.Equal(t, 3, ev.Data["count"])

	b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = b.ReadMessage()
	assert.Error(t, err, "session b must not see session a events")
}

func TestHub_SlowClientDoesNotStallOtherSessions(t *testing.T) {
	hub, srv := startHub(t)
	dial(t, srv, "slow") // never reads
	fast := dial(t, srv, "fast")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)

	// Far more than the socket buffers hold, so writes to the slow client block.
	big := make([]byte, 1<<20)
	for i := 0; i < 40; i++ {
		hub.Broadcast("slow", big)
	}
	hub.Publish("fast", "job_done", nil)

	fast.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := fast.ReadMessage()
	require.NoError(t, err, "the fast session gets its event while the slow client is stuck")
	assert.Contains(t, string(data), `"job_done"`)
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "a")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_EventsWithoutSubscribersAreSkipped(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHubService(logger.New(&buf))

	for i := 0; i < 500; i++ {
		hub.Publish("one-shot", "job_progress", map[string]int{"frame": i})
	}

	assert.Empty(t, hub.broadcast, "nothing is queued for a session without clients")
	assert.NotContains(t, buf.String(), "dropping")
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewHubService(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish("a", "detection", nil)
		}
		hub.Unregister(nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing to a stopped hub blocked")
	}
}
