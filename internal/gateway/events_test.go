package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/tether/internal/engine"
)

// readEvent reads and decodes the next event from the feed.
func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	return ev
}

func TestEventStream(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 18406}
	server := NewServer(config, WithStatusSource(&mockStatusSource{
		status: engine.DriverStatus{Running: true},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Start(ctx) }()
	waitForServer(t, "http://"+config.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+config.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial event stream: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// The first event carries the current driver status
	ev := readEvent(t, conn)
	if ev.Type != EventStatus {
		t.Fatalf("Expected %s event first, got %s", EventStatus, ev.Type)
	}
	if ev.Status == nil || !ev.Status.Running {
		t.Error("Status event should carry the driver status")
	}

	// Pass start is broadcast to connected clients
	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	server.PassStarted(startedAt)

	ev = readEvent(t, conn)
	if ev.Type != EventPassStarted {
		t.Fatalf("Expected %s event, got %s", EventPassStarted, ev.Type)
	}
	if !ev.At.Equal(startedAt) {
		t.Errorf("Expected event at %v, got %v", startedAt, ev.At)
	}

	// Pass completion carries the report
	report := &engine.PassReport{
		PassID:     "pass-123",
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(3 * time.Second),
		Projects: []*engine.ProjectReport{
			{Project: "gitlab-repo", PatchesApplied: 2},
		},
	}
	server.PassFinished(report, nil)

	ev = readEvent(t, conn)
	if ev.Type != EventPassCompleted {
		t.Fatalf("Expected %s event, got %s", EventPassCompleted, ev.Type)
	}
	if ev.Report == nil || ev.Report.PassID != "pass-123" {
		t.Error("Completion event should carry the pass report")
	}
	if !ev.At.Equal(report.FinishedAt) {
		t.Errorf("Expected event at %v, got %v", report.FinishedAt, ev.At)
	}
	if ev.Error != "" {
		t.Errorf("Expected no error, got %q", ev.Error)
	}

	// A failed pass carries its error string
	server.PassFinished(report, errors.New("tracker unreachable"))

	ev = readEvent(t, conn)
	if ev.Type != EventPassCompleted {
		t.Fatalf("Expected %s event, got %s", EventPassCompleted, ev.Type)
	}
	if ev.Error != "tracker unreachable" {
		t.Errorf("Expected error string, got %q", ev.Error)
	}
}

func TestEventStreamMultipleClients(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 18407}
	server := NewServer(config, WithStatusSource(&mockStatusSource{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Start(ctx) }()
	waitForServer(t, "http://"+config.Addr())

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+config.Addr()+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to dial client %d: %v", i, err)
		}
		defer func() { _ = conn.Close() }()
		conns = append(conns, conn)

		// Drain the initial status event
		if ev := readEvent(t, conn); ev.Type != EventStatus {
			t.Fatalf("Client %d: expected status event, got %s", i, ev.Type)
		}
	}

	server.PassStarted(time.Now().UTC())

	for i, conn := range conns {
		ev := readEvent(t, conn)
		if ev.Type != EventPassStarted {
			t.Errorf("Client %d: expected %s, got %s", i, EventPassStarted, ev.Type)
		}
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 18408})

	// No connected clients, must not panic
	server.PassStarted(time.Now())
	server.PassFinished(&engine.PassReport{PassID: "p"}, nil)
	server.PassFinished(nil, errors.New("boom"))
}

func TestEventMarshalShape(t *testing.T) {
	ev := Event{
		Type: EventPassStarted,
		At:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != "pass_started" {
		t.Errorf("Expected type pass_started, got %v", decoded["type"])
	}
	// Empty optional fields stay off the wire
	for _, key := range []string{"status", "report", "error"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("Empty field %q should be omitted", key)
		}
	}
}
