package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/store"
)

// botHandle matches forge accounts synthesized for project or group
// access tokens. They never correspond to a tracker account.
var botHandle = regexp.MustCompile(`(?i)^(project|group)_\d+_bot(_|$)`)

// correlateMembers pairs tracker and forge accounts by a name heuristic:
// each forge handle is reduced to a search key, and any tracker member
// whose display name contains the key (case-insensitively) is paired
// with it. The store's unique indexes make the first written pair stick;
// later candidates for an already-paired account are ignored, and
// existing rows are never re-evaluated.
func (e *Engine) correlateMembers(ctx context.Context, aMembers, bMembers []adapters.Member, log *slog.Logger) (int, error) {
	paired := 0
	for _, b := range bMembers {
		if botHandle.MatchString(b.Handle) {
			continue
		}
		key := strings.ToLower(searchKey(b.Handle))
		if key == "" {
			continue
		}
		for _, a := range aMembers {
			if !strings.Contains(strings.ToLower(a.Name), key) {
				continue
			}
			if e.cfg.DryRun {
				log.Info("dry-run: would pair users",
					"tracker_user", a.ID, "forge_user", b.ID, "handle", b.Handle)
				paired++
				continue
			}
			inserted, err := e.store.PairUser(ctx, a.ID, b.ID, b.Handle)
			if err != nil {
				return paired, storeFail("pairing user", err)
			}
			if inserted {
				paired++
				e.metrics.RecordUserPaired()
				log.Info("paired users", "tracker_user", a.ID, "forge_user", b.ID, "handle", b.Handle)
			}
		}
	}
	return paired, nil
}

// searchKey reduces a forge handle to the fragment most likely to appear
// in a tracker display name: the last separator-delimited part, or the
// handle minus its first character (a first-initial convention), or the
// handle itself when it is too short for either.
func searchKey(handle string) string {
	parts := strings.FieldsFunc(handle, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) >= 2 {
		return parts[len(parts)-1]
	}
	if len(handle) >= 4 {
		return handle[1:]
	}
	return handle
}

// userIndex is a pass-local view of the correlation table, giving O(1)
// translation between platform user ids and the neutral row id.
type userIndex struct {
	rowByTracker map[int64]int64
	rowByForge   map[int64]int64
	trackerByRow map[int64]int64
	forgeByRow   map[int64]int64
}

func (e *Engine) loadUserIndex(ctx context.Context) (*userIndex, error) {
	users, err := e.store.Users(ctx)
	if err != nil {
		return nil, storeFail("loading users", err)
	}
	return newUserIndex(users), nil
}

func newUserIndex(users []*store.User) *userIndex {
	ui := &userIndex{
		rowByTracker: make(map[int64]int64),
		rowByForge:   make(map[int64]int64),
		trackerByRow: make(map[int64]int64),
		forgeByRow:   make(map[int64]int64),
	}
	for _, u := range users {
		if u.RedmineUserID != nil {
			ui.rowByTracker[*u.RedmineUserID] = u.ID
			ui.trackerByRow[u.ID] = *u.RedmineUserID
		}
		if u.GitLabUserID != nil {
			ui.rowByForge[*u.GitLabUserID] = u.ID
			ui.forgeByRow[u.ID] = *u.GitLabUserID
		}
	}
	return ui
}

// neutralFromTracker translates a tracker user id to the correlation row
// id. Uncorrelated users translate to nil, which compares equal to an
// absent assignee.
func (ui *userIndex) neutralFromTracker(id *int64) *int64 {
	if id == nil {
		return nil
	}
	if row, ok := ui.rowByTracker[*id]; ok {
		return &row
	}
	return nil
}

func (ui *userIndex) neutralFromForge(id *int64) *int64 {
	if id == nil {
		return nil
	}
	if row, ok := ui.rowByForge[*id]; ok {
		return &row
	}
	return nil
}

func (ui *userIndex) trackerFor(row *int64) (int64, bool) {
	if row == nil {
		return 0, false
	}
	id, ok := ui.trackerByRow[*row]
	return id, ok
}

func (ui *userIndex) forgeFor(row *int64) (int64, bool) {
	if row == nil {
		return 0, false
	}
	id, ok := ui.forgeByRow[*row]
	return id, ok
}
