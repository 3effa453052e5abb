package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coachroom/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startStreamer(t *testing.T, hub *Hub, cfg StreamerConfig, initial *domain.Event) (*Streamer, string) {
	t.Helper()
	streamer := NewStreamer(hub, cfg, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Serve(w, r, r.URL.Query().Get("topic"), initial)
	}))
	t.Cleanup(srv.Close)
	return streamer, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	var ev domain.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestStreamer_StreamsTopicUntilSessionClosed(t *testing.T) {
	hub := NewHub(8, nil)
	initial := &domain.Event{Type: domain.EventStateChanged, Topic: "s1", State: domain.StateIdle}
	_, url := startStreamer(t, hub, DefaultStreamerConfig(), initial)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?topic=s1", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, domain.StateIdle, first.State)

	require.Eventually(t, func() bool { return hub.Subscribers("s1") == 1 }, time.Second, 5*time.Millisecond)

	elapsed := 3
	hub.Publish(domain.Event{Type: domain.EventTick, Topic: "s1", Elapsed: &elapsed})
	hub.Publish(domain.Event{Type: domain.EventTick, Topic: "other"})
	hub.Publish(domain.Event{Type: domain.EventSessionClosed, Topic: "s1"})

	tick := readEvent(t, conn)
	require.NotNil(t, tick.Elapsed)
	assert.Equal(t, 3, *tick.Elapsed)
	assert.Equal(t, domain.EventSessionClosed, readEvent(t, conn).Type)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return hub.Subscribers("s1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamer_UploadFinishedIsTerminal(t *testing.T) {
	hub := NewHub(8, nil)
	streamer, url := startStreamer(t, hub, DefaultStreamerConfig(), nil)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?topic=u1", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return streamer.Active() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(domain.Event{Type: domain.EventUploadProgress, Topic: "u1", Upload: &domain.UploadTask{State: domain.UploadSucceeded, Progress: 100}})

	ev := readEvent(t, conn)
	assert.Equal(t, 100, ev.Upload.Progress)
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return streamer.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamer_ClientDisconnectReleasesSubscription(t *testing.T) {
	hub := NewHub(8, nil)
	_, url := startStreamer(t, hub, DefaultStreamerConfig(), nil)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?topic=s2", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers("s2") == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("s2") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamer_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(8, nil)
	cfg := DefaultStreamerConfig()
	cfg.AllowedOrigins = []string{"coach.example.com"}
	_, url := startStreamer(t, hub, cfg, nil)

	header := http.Header{"Origin": []string{"https://evil.example.org"}}
	_, resp, err := websocket.DefaultDialer.Dial(url+"?topic=s3", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://coach.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url+"?topic=s3", header)
	require.NoError(t, err)
	conn.Close()
}
