package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alekspetrov/tether/internal/adapters"
)

const snapshotVersion = 1

// Snapshot is the canonical record of the last state both sides of a
// mapping agreed on. It is the three-way merge base. Description holds
// the payload only: the Source backlink line is stripped before storing
// and re-rendered per side when writing, so stored text is side-neutral.
// AssigneeUser is the correlation row id, not a platform id.
type Snapshot struct {
	V            int             `json:"v"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Labels       []string        `json:"labels,omitempty"`
	AssigneeUser *int64          `json:"assignee_user,omitempty"`
	DueDate      *string         `json:"due_date,omitempty"`
	Status       adapters.Status `json:"status"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EncodeSnapshot serializes a snapshot for storage. Field order follows
// the struct declaration, so equal snapshots encode to equal bytes.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	s.V = snapshotVersion
	return json.Marshal(s)
}

// DecodeSnapshot parses a stored snapshot blob. A nil or empty blob
// decodes to nil (the pre-first-reconciliation state).
func DecodeSnapshot(blob []byte) (*Snapshot, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("failed to parse canonical snapshot: %w", err)
	}
	if s.V != snapshotVersion {
		return nil, fmt.Errorf("unsupported canonical snapshot version %d", s.V)
	}
	return &s, nil
}

// Equal compares the six synchronized fields. UpdatedAt is a merge hint,
// never part of equality.
func (s *Snapshot) Equal(o *Snapshot) bool {
	return s.titleEqual(o) && s.descriptionEqual(o) && s.labelsEqual(o) &&
		s.assigneeEqual(o) && s.dueDateEqual(o) && s.statusEqual(o)
}

func (s *Snapshot) titleEqual(o *Snapshot) bool { return s.Title == o.Title }

func (s *Snapshot) descriptionEqual(o *Snapshot) bool { return s.Description == o.Description }

func (s *Snapshot) statusEqual(o *Snapshot) bool {
	return strings.EqualFold(string(s.Status), string(o.Status))
}

func (s *Snapshot) assigneeEqual(o *Snapshot) bool {
	return nullableEqual(s.AssigneeUser, o.AssigneeUser)
}

func (s *Snapshot) dueDateEqual(o *Snapshot) bool {
	if s.DueDate == nil || o.DueDate == nil {
		return (s.DueDate == nil) == (o.DueDate == nil)
	}
	return *s.DueDate == *o.DueDate
}

// labelsEqual is set equality under case-insensitive comparison.
func (s *Snapshot) labelsEqual(o *Snapshot) bool {
	if len(s.Labels) != len(o.Labels) {
		return false
	}
	set := make(map[string]struct{}, len(s.Labels))
	for _, l := range s.Labels {
		set[strings.ToLower(l)] = struct{}{}
	}
	for _, l := range o.Labels {
		if _, ok := set[strings.ToLower(l)]; !ok {
			return false
		}
	}
	return true
}

func nullableEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return *a == *b
}
