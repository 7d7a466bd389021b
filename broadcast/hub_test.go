package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.ServeWS)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := NewHub()
	defer h.Close()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, h, 2)

	h.BroadcastCounts(3, 1)

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var update CountUpdate
		require.NoError(t, json.Unmarshal(payload, &update))
		assert.Equal(t, uint64(3), update.InCount)
		assert.Equal(t, uint64(1), update.OutCount)
	}
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	h := NewHub()
	defer h.Close()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)

	// Broadcasting to nobody must not panic or block.
	h.BroadcastCounts(1, 0)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := NewHub()
	defer h.Close()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	dial(t, srv)
	waitForClients(t, h, 1)

	// Far more messages than queue plus socket buffers can absorb while the
	// client never reads. The hub must shed the client rather than block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			h.BroadcastCounts(uint64(i), 0)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestCloseRejectsNewClients(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	h.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		// Upgrade may succeed before the hub closes the connection; the
		// connection must die immediately after.
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		conn.Close()
	}
	assert.Error(t, err)
	assert.Equal(t, 0, h.ClientCount())
}
