package events

import (
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"coachroom/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type StreamerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Streamer pushes the events of one topic to a WebSocket client as JSON
// frames, keeping the connection alive with pings.
type Streamer struct {
	hub      *Hub
	cfg      StreamerConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
	active   atomic.Int64
}

func NewStreamer(hub *Hub, cfg StreamerConfig, logger *zap.SugaredLogger) *Streamer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Streamer{hub: hub, cfg: cfg, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Active returns the number of open streams.
func (s *Streamer) Active() int64 {
	return s.active.Load()
}

// Serve upgrades the request and streams topic until the client disconnects,
// the hub closes, or a terminal event has been delivered. initial, when
// non-nil, is sent first so the client starts from the current state.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, topic string, initial *domain.Event) {
	// subscribe before upgrading so nothing published in between is lost
	sub := s.hub.Subscribe(topic)
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Infow("websocket upgrade failed", "topic", topic, "error", err)
		return
	}
	defer conn.Close()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.logger.Infow("event stream opened", "topic", topic)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	// the reader only drains control frames and notices the client leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debugw("event stream read error", "topic", topic, "error", err)
				}
				return
			}
		}
	}()

	if initial != nil {
		if err := s.write(conn, *initial); err != nil {
			return
		}
	}

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				s.closeConn(conn, "server shutting down")
				return
			}
			if err := s.write(conn, event); err != nil {
				s.logger.Debugw("event stream write failed", "topic", topic, "error", err)
				return
			}
			if terminal(event) {
				s.closeConn(conn, string(event.Type))
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("error sending ping", "topic", topic, "error", err)
				return
			}

		case <-gone:
			s.logger.Infow("event stream closed by client", "topic", topic)
			return
		}
	}
}

func (s *Streamer) write(conn *websocket.Conn, event domain.Event) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(event)
}

func (s *Streamer) closeConn(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
}

func (s *Streamer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

// terminal reports whether no further events can follow on the topic.
func terminal(event domain.Event) bool {
	switch {
	case event.Type == domain.EventSessionClosed:
		return true
	case event.Type == domain.EventUploadProgress && event.Upload != nil:
		return event.Upload.State == domain.UploadSucceeded || event.Upload.State == domain.UploadFailed
	}
	return false
}
