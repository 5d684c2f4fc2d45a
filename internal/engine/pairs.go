package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/store"
)

// pairContext carries one project's pass-local state: the correlation
// index and the live issue listings, indexed for observation hints.
type pairContext struct {
	project        *store.Project
	forgeProjectID int64
	users          *userIndex
	aIssues        []adapters.IssueView
	bIssues        []adapters.IssueView
	aByID          map[int64]*adapters.IssueView
	bByID          map[int64]*adapters.IssueView
}

func newPairContext(p *store.Project, users *userIndex, aIssues, bIssues []adapters.IssueView) *pairContext {
	pc := &pairContext{
		project:        p,
		forgeProjectID: *p.Repo.GitLabProjectID,
		users:          users,
		aIssues:        aIssues,
		bIssues:        bIssues,
		aByID:          make(map[int64]*adapters.IssueView, len(aIssues)),
		bByID:          make(map[int64]*adapters.IssueView, len(bIssues)),
	}
	for i := range aIssues {
		pc.aByID[aIssues[i].ID] = &aIssues[i]
	}
	for i := range bIssues {
		pc.bByID[bIssues[i].ID] = &bIssues[i]
	}
	return pc
}

// inCategory reports whether an issue's single folded label is one of
// the configured category keys.
func (e *Engine) inCategory(v *adapters.IssueView) bool {
	if len(v.Labels) == 0 {
		return false
	}
	for _, k := range e.cfg.CategoryKeys {
		if strings.EqualFold(k, v.Labels[0]) {
			return true
		}
	}
	return false
}

// discoverPairs runs the four discovery steps for one project: title
// seeding, the stale-mapping sweep, then create-missing in both
// directions. The candidate sets for create-missing are taken from the
// mapping table as it stood when the step began, so a pair removed by
// the sweep is not immediately re-created from its surviving side.
func (e *Engine) discoverPairs(ctx context.Context, pc *pairContext, pr *ProjectReport, log *slog.Logger) error {
	mappings, err := e.store.MappingsForProject(ctx, pc.project.ID)
	if err != nil {
		return storeFail("loading mappings", err)
	}

	mappedA := make(map[int64]bool, len(mappings))
	mappedB := make(map[int64]bool, len(mappings))
	for _, m := range mappings {
		mappedA[m.RedmineIssueID] = true
		mappedB[m.GitLabIssueID] = true
	}

	if err := e.seedByTitle(ctx, pc, mappedA, mappedB, pr, log); err != nil {
		return err
	}
	if err := e.sweepStale(ctx, pc, mappings, pr, log); err != nil {
		return err
	}
	if err := e.createMissingForge(ctx, pc, mappedA, mappedB, pr, log); err != nil {
		return err
	}
	if err := e.createMissingTracker(ctx, pc, mappedA, mappedB, pr, log); err != nil {
		return err
	}
	return nil
}

// seedByTitle pairs unmapped issues whose trimmed titles match exactly
// once on each side. Seeded mappings start with a nil canonical; the
// reconciliation stage of the same pass performs the first observation,
// which pushes the tracker side toward the forge view.
func (e *Engine) seedByTitle(ctx context.Context, pc *pairContext, mappedA, mappedB map[int64]bool, pr *ProjectReport, log *slog.Logger) error {
	groups := make(map[string][]*adapters.IssueView)
	for i := range pc.bIssues {
		b := &pc.bIssues[i]
		if mappedB[b.ID] || !e.inCategory(b) {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(b.Title))
		groups[key] = append(groups[key], b)
	}

	for i := range pc.aIssues {
		a := &pc.aIssues[i]
		if mappedA[a.ID] || !e.inCategory(a) {
			continue
		}
		group := groups[strings.ToLower(strings.TrimSpace(a.Title))]
		var candidate *adapters.IssueView
		for _, b := range group {
			if mappedB[b.ID] {
				continue
			}
			if candidate != nil {
				candidate = nil
				break
			}
			candidate = b
		}
		if candidate == nil {
			continue
		}

		if e.cfg.DryRun {
			log.Info("dry-run: would seed mapping by title",
				"tracker_issue", a.ID, "forge_issue", candidate.IID, "title", a.Title)
			pr.MappingsSeeded++
			mappedA[a.ID] = true
			mappedB[candidate.ID] = true
			continue
		}

		m := &store.Mapping{
			ProjectID:      pc.project.ID,
			RedmineIssueID: a.ID,
			GitLabIssueID:  candidate.ID,
			GitLabIssueIID: candidate.IID,
		}
		err := e.store.CreateMapping(ctx, m)
		if store.IsUniqueViolation(err) {
			log.Warn("seed candidate already paired elsewhere, skipping",
				"tracker_issue", a.ID, "forge_issue", candidate.ID)
			continue
		}
		if err != nil {
			return storeFail("creating seeded mapping", err)
		}
		mappedA[a.ID] = true
		mappedB[candidate.ID] = true
		pr.MappingsSeeded++
		e.metrics.RecordMappingSeeded()
		log.Info("seeded mapping by title",
			"tracker_issue", a.ID, "forge_issue", candidate.IID, "title", a.Title)
	}
	return nil
}

// sweepStale confirms both sides of every pre-existing mapping still
// exist. A side absent from the listing is probed directly; a confirmed
// NotFound deletes the mapping. The surviving counterpart is left alone:
// deletions never propagate.
func (e *Engine) sweepStale(ctx context.Context, pc *pairContext, mappings []*store.Mapping, pr *ProjectReport, log *slog.Logger) error {
	for _, m := range mappings {
		gone := false

		if _, ok := pc.aByID[m.RedmineIssueID]; !ok {
			view, err := e.tracker.GetIssue(ctx, m.RedmineIssueID)
			switch {
			case adapters.IsNotFound(err):
				gone = true
			case err != nil:
				log.Warn("tracker probe failed, keeping mapping",
					"tracker_issue", m.RedmineIssueID, "error", err)
				continue
			default:
				pc.aByID[m.RedmineIssueID] = view
			}
		}
		if !gone {
			if _, ok := pc.bByID[m.GitLabIssueID]; !ok {
				view, err := e.forge.GetIssue(ctx, pc.forgeProjectID, m.GitLabIssueIID)
				switch {
				case adapters.IsNotFound(err):
					gone = true
				case err != nil:
					log.Warn("forge probe failed, keeping mapping",
						"forge_issue", m.GitLabIssueIID, "error", err)
					continue
				default:
					pc.bByID[m.GitLabIssueID] = view
				}
			}
		}
		if !gone {
			continue
		}

		if e.cfg.DryRun {
			log.Info("dry-run: would delete stale mapping",
				"tracker_issue", m.RedmineIssueID, "forge_issue", m.GitLabIssueIID)
			pr.MappingsDeleted++
			continue
		}
		if err := e.store.DeleteMapping(ctx, m.ID); err != nil {
			return storeFail("deleting stale mapping", err)
		}
		pr.MappingsDeleted++
		e.metrics.RecordMappingDeleted()
		log.Info("deleted stale mapping",
			"tracker_issue", m.RedmineIssueID, "forge_issue", m.GitLabIssueIID)
	}
	return nil
}

// createMissingForge creates a forge counterpart for every unmapped
// in-category tracker issue. The forge always creates issues open, so a
// closed tracker issue gets a close follow-up before the canonical is
// taken from the live forge view.
func (e *Engine) createMissingForge(ctx context.Context, pc *pairContext, mappedA, mappedB map[int64]bool, pr *ProjectReport, log *slog.Logger) error {
	for i := range pc.aIssues {
		a := &pc.aIssues[i]
		if mappedA[a.ID] || !e.inCategory(a) {
			continue
		}

		draft := adapters.ForgeDraft{
			Title:       a.Title,
			Description: withSource(stripSource(a.Description), trackerIssueURL(e.cfg.TrackerLinkBase, a.ID)),
			Labels:      a.Labels,
			DueDate:     copyString(a.DueDate),
		}
		if id, ok := pc.users.forgeFor(pc.users.neutralFromTracker(a.AssigneeID)); ok {
			draft.AssigneeIDs = []int64{id}
		} else if a.AssigneeID != nil {
			log.Warn("assignee has no forge correlation, creating unassigned",
				"tracker_issue", a.ID, "tracker_user", *a.AssigneeID)
		}

		if e.cfg.DryRun {
			log.Info("dry-run: would create forge issue",
				"tracker_issue", a.ID, "title", a.Title)
			pr.CreatedForge++
			mappedA[a.ID] = true
			continue
		}

		view, err := e.forge.CreateIssue(ctx, pc.forgeProjectID, draft)
		if err != nil {
			log.Error("creating forge issue failed", "tracker_issue", a.ID, "error", err)
			pr.Failures++
			continue
		}
		if a.Status == adapters.StatusClosed {
			closeEvent := adapters.StateEventClose
			err := e.forge.UpdateIssue(ctx, pc.forgeProjectID, view.IID, adapters.ForgePatch{StateEvent: &closeEvent})
			if err != nil {
				log.Warn("closing created forge issue failed, next pass converges it",
					"forge_issue", view.IID, "error", err)
			} else if fresh, err := e.forge.GetIssue(ctx, pc.forgeProjectID, view.IID); err == nil {
				view = fresh
			}
		}

		canonical, err := EncodeSnapshot(e.snapshotOf(view, pc.users.neutralFromForge))
		if err != nil {
			return err
		}
		m := &store.Mapping{
			ProjectID:      pc.project.ID,
			RedmineIssueID: a.ID,
			GitLabIssueID:  view.ID,
			GitLabIssueIID: view.IID,
			Canonical:      canonical,
		}
		err = e.store.CreateMapping(ctx, m)
		if store.IsUniqueViolation(err) {
			log.Warn("created forge issue could not be mapped, id already paired",
				"tracker_issue", a.ID, "forge_issue", view.IID)
			continue
		}
		if err != nil {
			return storeFail("recording created forge issue", err)
		}
		mappedA[a.ID] = true
		mappedB[view.ID] = true
		pc.bByID[view.ID] = view
		pr.CreatedForge++
		e.metrics.RecordIssueCreated("forge")
		log.Info("created forge issue",
			"tracker_issue", a.ID, "forge_issue", view.IID, "title", a.Title)
	}
	return nil
}

// createMissingTracker creates a tracker counterpart for every unmapped
// in-category forge issue. The matched category key picks the tracker
// id; a key or status name missing from the reference cache is omitted
// from the draft and logged.
func (e *Engine) createMissingTracker(ctx context.Context, pc *pairContext, mappedA, mappedB map[int64]bool, pr *ProjectReport, log *slog.Logger) error {
	for i := range pc.bIssues {
		b := &pc.bIssues[i]
		if mappedB[b.ID] || !e.inCategory(b) {
			continue
		}

		draft := adapters.TrackerDraft{
			Subject:     b.Title,
			Description: withSource(stripSource(b.Description), forgeIssueURL(e.cfg.ForgeLinkBase, pc.project.Repo.Path, b.IID)),
			DueDate:     copyString(b.DueDate),
		}
		trackerID, ok, err := e.store.TrackerIDByName(ctx, b.Labels[0])
		if err != nil {
			return storeFail("resolving tracker name", err)
		}
		if ok {
			draft.TrackerID = &trackerID
		} else {
			log.Warn("category has no tracker on the other side, using its default",
				"label", b.Labels[0], "forge_issue", b.IID)
		}
		statusID, ok, err := e.statusIDFor(ctx, b.Status)
		if err != nil {
			return err
		}
		if ok {
			draft.StatusID = &statusID
		}
		if id, ok := pc.users.trackerFor(pc.users.neutralFromForge(b.AssigneeID)); ok {
			draft.AssignedToID = &id
		} else if b.AssigneeID != nil {
			log.Warn("assignee has no tracker correlation, creating unassigned",
				"forge_issue", b.IID, "forge_user", *b.AssigneeID)
		}

		if e.cfg.DryRun {
			log.Info("dry-run: would create tracker issue",
				"forge_issue", b.IID, "title", b.Title)
			pr.CreatedTracker++
			mappedB[b.ID] = true
			continue
		}

		view, err := e.tracker.CreateIssue(ctx, pc.project.RedmineProjectID, draft)
		if err != nil {
			log.Error("creating tracker issue failed", "forge_issue", b.IID, "error", err)
			pr.Failures++
			continue
		}

		canonical, err := EncodeSnapshot(e.snapshotOf(view, pc.users.neutralFromTracker))
		if err != nil {
			return err
		}
		m := &store.Mapping{
			ProjectID:      pc.project.ID,
			RedmineIssueID: view.ID,
			GitLabIssueID:  b.ID,
			GitLabIssueIID: b.IID,
			Canonical:      canonical,
		}
		err = e.store.CreateMapping(ctx, m)
		if store.IsUniqueViolation(err) {
			log.Warn("created tracker issue could not be mapped, id already paired",
				"tracker_issue", view.ID, "forge_issue", b.IID)
			continue
		}
		if err != nil {
			return storeFail("recording created tracker issue", err)
		}
		mappedA[view.ID] = true
		mappedB[b.ID] = true
		pc.aByID[view.ID] = view
		pr.CreatedTracker++
		e.metrics.RecordIssueCreated("tracker")
		log.Info("created tracker issue",
			"tracker_issue", view.ID, "forge_issue", b.IID, "title", b.Title)
	}
	return nil
}

// statusIDFor translates the neutral status to the tracker's status id
// through the reference cache ("New" for open, "Closed" for closed).
func (e *Engine) statusIDFor(ctx context.Context, status adapters.Status) (int64, bool, error) {
	name := "New"
	if status == adapters.StatusClosed {
		name = "Closed"
	}
	id, ok, err := e.store.StatusIDByName(ctx, name)
	if err != nil {
		return 0, false, storeFail("resolving status name", err)
	}
	return id, ok, nil
}
