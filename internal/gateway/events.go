package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/tether/internal/engine"
	"github.com/alekspetrov/tether/internal/logging"
)

const (
	// wsPingInterval is the interval between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong response before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
)

// Event message types on the /ws feed.
const (
	EventStatus        = "status"
	EventPassStarted   = "pass_started"
	EventPassCompleted = "pass_completed"
)

// Event is one JSON message on the /ws feed. A client receives a
// "status" event on connect, then "pass_started" and "pass_completed"
// as the driver runs.
type Event struct {
	Type   string               `json:"type"`
	At     time.Time            `json:"at"`
	Status *engine.DriverStatus `json:"status,omitempty"`
	Report *engine.PassReport   `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// PassStarted implements engine.PassObserver. It broadcasts the start
// of a pass to all connected event stream clients.
func (s *Server) PassStarted(at time.Time) {
	s.broadcastEvent(Event{Type: EventPassStarted, At: at})
}

// PassFinished implements engine.PassObserver. It broadcasts the pass
// report, including the error for a failed pass.
func (s *Server) PassFinished(report *engine.PassReport, err error) {
	ev := Event{Type: EventPassCompleted, At: time.Now().UTC(), Report: report}
	if err != nil {
		ev.Error = err.Error()
	}
	if report != nil {
		ev.At = report.FinishedAt
	}
	s.broadcastEvent(ev)
}

func (s *Server) broadcastEvent(ev Event) {
	if s.clients.count() == 0 {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		logging.WithComponent("gateway").Error("event encode error", slog.Any("error", err))
		return
	}
	s.clients.broadcast(msg)
}

// handleEvents upgrades the connection to WebSocket and streams pass
// lifecycle events. On connect it sends the current driver status so a
// dashboard can render without waiting for the next pass.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("gateway")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("event stream upgrade error", slog.Any("error", err))
		return
	}

	client := s.clients.add(conn)
	defer s.clients.drop(client.id)

	log.Info("event stream connected",
		slog.String("client_id", client.id),
		slog.String("remote", r.RemoteAddr))

	if s.status != nil {
		st := s.status.Status()
		if msg, err := json.Marshal(Event{Type: EventStatus, At: time.Now().UTC(), Status: &st}); err == nil {
			if err := client.send(msg); err != nil {
				log.Warn("event stream initial send failed", slog.Any("error", err))
				return
			}
		}
	}

	// Keepalive: expect a pong within the window after each ping.
	conn.SetPongHandler(func(string) error {
		client.touch()
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := client.ping(); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	// Read pump: drain client messages (none expected) and detect disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("event stream read error", slog.Any("error", err))
			}
			return
		}
	}
}
