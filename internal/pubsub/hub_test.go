package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func httptestHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHub_SnapshotAndChannelFiltering(t *testing.T) {
	hub := NewHub([]string{"gate-channel", "video-channel"}, zerolog.Nop())
	hub.SetSnapshot("gate-channel", func() (string, interface{}) {
		return "gate-update", map[string]interface{}{"status": "idle"}
	})
	srv := httptest.NewServer(httptestHandler(hub))
	defer srv.Close()
	defer hub.Close()

	gateConn := dial(t, srv, "?channels=gate-channel")
	videoConn := dial(t, srv, "?channels=video-channel")

	snap := readEnvelope(t, gateConn)
	require.Equal(t, "gate-channel", snap.Channel)
	require.Equal(t, "gate-update", snap.Event)
	require.Equal(t, "idle", snap.Data.(map[string]interface{})["status"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), "video-channel", "frame", map[string]interface{}{"stream_id": "cam-1", "ts": 1}))
	frame := readEnvelope(t, videoConn)
	require.Equal(t, "frame", frame.Event)
	require.Equal(t, "cam-1", frame.Data.(map[string]interface{})["stream_id"])

	require.NoError(t, hub.Publish(context.Background(), "gate-channel", "gate-update", map[string]interface{}{"status": "present_unknown"}))
	update := readEnvelope(t, gateConn)
	require.Equal(t, "present_unknown", update.Data.(map[string]interface{})["status"])
}

func TestHub_DisconnectAndClose(t *testing.T) {
	hub := NewHub([]string{"gate-channel"}, zerolog.Nop())
	srv := httptest.NewServer(httptestHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	require.ErrorIs(t, hub.Publish(context.Background(), "gate-channel", "gate-update", nil), ErrHubClosed)
}

func TestParseChannels(t *testing.T) {
	defaults := []string{"a", "b"}
	require.Equal(t, defaults, parseChannels("", defaults))
	require.Equal(t, []string{"x", "y"}, parseChannels(" x, y ,x,,", defaults))
}

func TestHub_SnapshotPrecedesConcurrentPublish(t *testing.T) {
	hub := NewHub([]string{"gate-channel"}, zerolog.Nop())
	published := make(chan error, 1)
	hub.SetSnapshot("gate-channel", func() (string, interface{}) {
		go func() {
			published <- hub.Publish(context.Background(), "gate-channel", "gate-update", map[string]interface{}{"status": "present_registered"})
		}()
		time.Sleep(50 * time.Millisecond)
		return "gate-update", map[string]interface{}{"status": "present_unknown"}
	})
	srv := httptest.NewServer(httptestHandler(hub))
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "?channels=gate-channel")

	first := readEnvelope(t, conn)
	require.Equal(t, "present_unknown", first.Data.(map[string]interface{})["status"])
	require.NoError(t, <-published)
	second := readEnvelope(t, conn)
	require.Equal(t, "present_registered", second.Data.(map[string]interface{})["status"])
}
