package engine

import (
	"testing"
	"time"

	"github.com/alekspetrov/tether/internal/adapters"
)

func snap(mutate func(*Snapshot)) *Snapshot {
	due := "2025-02-01"
	user := int64(1)
	s := &Snapshot{
		V:            snapshotVersion,
		Title:        "Fix crash",
		Description:  "the body",
		Labels:       []string{"Bug"},
		AssigneeUser: &user,
		DueDate:      &due,
		Status:       adapters.StatusOpen,
		UpdatedAt:    time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(s)
	}
	return s
}

func TestSnapshotEqual(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   bool
	}{
		{"identical", nil, true},
		{"updated at ignored", func(s *Snapshot) { s.UpdatedAt = s.UpdatedAt.Add(time.Hour) }, true},
		{"label case ignored", func(s *Snapshot) { s.Labels = []string{"bug"} }, true},
		{"status case ignored", func(s *Snapshot) { s.Status = "OPEN" }, true},
		{"title differs", func(s *Snapshot) { s.Title = "Other" }, false},
		{"description differs", func(s *Snapshot) { s.Description = "other body" }, false},
		{"label differs", func(s *Snapshot) { s.Labels = []string{"Feature"} }, false},
		{"label added", func(s *Snapshot) { s.Labels = []string{"Bug", "Feature"} }, false},
		{"assignee cleared", func(s *Snapshot) { s.AssigneeUser = nil }, false},
		{"assignee differs", func(s *Snapshot) { v := int64(2); s.AssigneeUser = &v }, false},
		{"due date cleared", func(s *Snapshot) { s.DueDate = nil }, false},
		{"due date differs", func(s *Snapshot) { v := "2025-03-01"; s.DueDate = &v }, false},
		{"status differs", func(s *Snapshot) { s.Status = adapters.StatusClosed }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snap(nil).Equal(snap(tt.mutate)); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotEqualBothAbsent(t *testing.T) {
	clear := func(s *Snapshot) {
		s.AssigneeUser = nil
		s.DueDate = nil
	}
	if !snap(clear).Equal(snap(clear)) {
		t.Error("absent fields should compare equal to absent fields")
	}
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	s := snap(nil)
	blob, err := EncodeSnapshot(s)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	got, err := DecodeSnapshot(blob)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if !got.Equal(s) {
		t.Errorf("round trip changed the snapshot: %+v != %+v", got, s)
	}
	if !got.UpdatedAt.Equal(s.UpdatedAt) {
		t.Errorf("UpdatedAt lost in round trip: %v != %v", got.UpdatedAt, s.UpdatedAt)
	}
}

func TestSnapshotEncodingIsStable(t *testing.T) {
	a, err := EncodeSnapshot(snap(nil))
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeSnapshot(snap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("equal snapshots encoded differently:\n%s\n%s", a, b)
	}
}

func TestDecodeSnapshotNil(t *testing.T) {
	s, err := DecodeSnapshot(nil)
	if err != nil {
		t.Fatalf("DecodeSnapshot(nil): %v", err)
	}
	if s != nil {
		t.Errorf("nil blob should decode to nil, got %+v", s)
	}
}

func TestDecodeSnapshotRejectsUnknownVersion(t *testing.T) {
	if _, err := DecodeSnapshot([]byte(`{"v":99,"title":"x"}`)); err == nil {
		t.Error("expected an error for an unknown snapshot version")
	}
	if _, err := DecodeSnapshot([]byte(`not json`)); err == nil {
		t.Error("expected an error for malformed blob")
	}
}
