package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/store"
)

// snapshotOf reduces a live view to the neutral snapshot shape. The
// description keeps only the payload; labels are projected onto the
// category vocabulary; the assignee becomes the correlation row id via
// the supplied translator, or nil when the account has no counterpart.
func (e *Engine) snapshotOf(v *adapters.IssueView, translate func(*int64) *int64) *Snapshot {
	return &Snapshot{
		V:            snapshotVersion,
		Title:        v.Title,
		Description:  stripSource(v.Description),
		Labels:       e.projectLabels(v.Labels),
		AssigneeUser: translate(v.AssigneeID),
		DueDate:      copyString(v.DueDate),
		Status:       v.Status,
		UpdatedAt:    v.UpdatedAt,
	}
}

// projectLabels keeps the first label that names a configured category,
// in the case the platform reported it. The forge adapter already folds
// its labels this way; applying the same projection to the tracker side
// keeps an out-of-vocabulary tracker from bouncing a category between
// the platforms pass after pass.
func (e *Engine) projectLabels(labels []string) []string {
	for _, l := range labels {
		for _, k := range e.cfg.CategoryKeys {
			if strings.EqualFold(l, k) {
				return []string{l}
			}
		}
	}
	return nil
}

// reconcileProject runs three-way convergence over every mapping of the
// project, including ones created earlier in this pass. Per-mapping
// failures leave the canonical untouched and move on; the next pass
// retries the same delta.
func (e *Engine) reconcileProject(ctx context.Context, pc *pairContext, pr *ProjectReport, log *slog.Logger) error {
	mappings, err := e.store.MappingsForProject(ctx, pc.project.ID)
	if err != nil {
		return storeFail("loading mappings", err)
	}

	for _, m := range mappings {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.reconcilePair(ctx, pc, m, pr, log)
		if err != nil {
			var se *storageError
			if errors.As(err, &se) {
				return err
			}
			pr.Failures++
			e.metrics.RecordPatchFailure()
			log.Warn("pair not converged, will retry next pass",
				"tracker_issue", m.RedmineIssueID, "forge_issue", m.GitLabIssueIID, "error", err)
			continue
		}
		pr.Reconciled++
		switch res {
		case outcomeMerged:
			pr.Conflicts++
			e.metrics.RecordConflictMerged()
		case outcomeDeleted:
			pr.MappingsDeleted++
			e.metrics.RecordMappingDeleted()
		}
	}
	return nil
}

// reconcilePair observes both sides of one mapping, classifies them
// against the canonical snapshot, patches the losing side (or both, on
// a per-field merge), and advances the canonical. A pair whose side has
// vanished is deleted here the same way the sweep does it.
func (e *Engine) reconcilePair(ctx context.Context, pc *pairContext, m *store.Mapping, pr *ProjectReport, log *slog.Logger) (outcome, error) {
	a, ok := pc.aByID[m.RedmineIssueID]
	if !ok {
		var err error
		a, err = e.tracker.GetIssue(ctx, m.RedmineIssueID)
		if adapters.IsNotFound(err) {
			return e.dropVanished(ctx, m, "tracker", log)
		}
		if err != nil {
			return outcomeNoop, fmt.Errorf("observing tracker issue %d: %w", m.RedmineIssueID, err)
		}
		pc.aByID[m.RedmineIssueID] = a
	}
	b, ok := pc.bByID[m.GitLabIssueID]
	if !ok {
		var err error
		b, err = e.forge.GetIssue(ctx, pc.forgeProjectID, m.GitLabIssueIID)
		if adapters.IsNotFound(err) {
			return e.dropVanished(ctx, m, "forge", log)
		}
		if err != nil {
			return outcomeNoop, fmt.Errorf("observing forge issue %d: %w", m.GitLabIssueIID, err)
		}
		pc.bByID[m.GitLabIssueID] = b
	}

	canonical, err := DecodeSnapshot(m.Canonical)
	if err != nil {
		log.Warn("canonical snapshot unreadable, re-seeding from forge view",
			"tracker_issue", m.RedmineIssueID, "error", err)
		canonical = nil
	}

	aSnap := e.snapshotOf(a, pc.users.neutralFromTracker)
	bSnap := e.snapshotOf(b, pc.users.neutralFromForge)

	res := classify(canonical, aSnap, bSnap)
	var want *Snapshot
	switch res {
	case outcomeNoop:
		return res, nil
	case outcomeTrackerWins:
		want = aSnap
	case outcomeForgeWins:
		want = bSnap
	case outcomeMerged:
		want = merge(canonical, aSnap, bSnap)
	}

	if res != outcomeTrackerWins {
		patch, err := e.trackerPatch(ctx, aSnap, a.Description, want, forgeIssueURL(e.cfg.ForgeLinkBase, pc.project.Repo.Path, b.IID), pc.users, log)
		if err != nil {
			return res, err
		}
		if patch.HasChanges() {
			if e.cfg.DryRun {
				pr.PatchesApplied++
				log.Info("dry-run: would patch tracker issue", "tracker_issue", a.ID, "decision", res.String())
			} else if err := e.tracker.UpdateIssue(ctx, a.ID, patch); err != nil {
				return res, fmt.Errorf("patching tracker issue %d: %w", a.ID, err)
			} else {
				pr.PatchesApplied++
				e.metrics.RecordPatchApplied("tracker")
				log.Info("patched tracker issue", "tracker_issue", a.ID, "decision", res.String())
			}
		}
	}
	if res == outcomeTrackerWins || res == outcomeMerged {
		patch, err := e.forgePatch(bSnap, b.Description, want, trackerIssueURL(e.cfg.TrackerLinkBase, a.ID), pc.users, log)
		if err != nil {
			return res, err
		}
		if patch.HasChanges() {
			if e.cfg.DryRun {
				pr.PatchesApplied++
				log.Info("dry-run: would patch forge issue", "forge_issue", b.IID, "decision", res.String())
			} else if err := e.forge.UpdateIssue(ctx, pc.forgeProjectID, b.IID, patch); err != nil {
				return res, fmt.Errorf("patching forge issue %d: %w", b.IID, err)
			} else {
				pr.PatchesApplied++
				e.metrics.RecordPatchApplied("forge")
				log.Info("patched forge issue", "forge_issue", b.IID, "decision", res.String())
			}
		}
	}

	if e.cfg.DryRun {
		return res, nil
	}
	blob, err := EncodeSnapshot(want)
	if err != nil {
		return res, err
	}
	if err := e.store.AdvanceCanonical(ctx, m.ID, blob); err != nil {
		return res, storeFail("advancing canonical", err)
	}
	return res, nil
}

// dropVanished deletes a mapping whose side returned NotFound on probe.
// The surviving counterpart is never touched.
func (e *Engine) dropVanished(ctx context.Context, m *store.Mapping, side string, log *slog.Logger) (outcome, error) {
	if e.cfg.DryRun {
		log.Info("dry-run: would delete mapping, issue vanished",
			"side", side, "tracker_issue", m.RedmineIssueID, "forge_issue", m.GitLabIssueIID)
		return outcomeDeleted, nil
	}
	if err := e.store.DeleteMapping(ctx, m.ID); err != nil {
		return outcomeDeleted, storeFail("deleting vanished mapping", err)
	}
	log.Info("deleted mapping, issue vanished",
		"side", side, "tracker_issue", m.RedmineIssueID, "forge_issue", m.GitLabIssueIID)
	return outcomeDeleted, nil
}

// trackerPatch diffs the tracker side against the wanted state. Name to
// id translations happen here, against the reference cache refreshed at
// the start of the pass; a name the tracker no longer knows is omitted
// from the patch and logged rather than failing the pair.
func (e *Engine) trackerPatch(ctx context.Context, current *Snapshot, rawDescription string, want *Snapshot, counterpartURL string, users *userIndex, log *slog.Logger) (adapters.TrackerPatch, error) {
	var patch adapters.TrackerPatch

	if !current.titleEqual(want) {
		patch.Subject = &want.Title
	}
	if desired := withSource(want.Description, counterpartURL); rawDescription != desired {
		patch.Description = &desired
	}
	if !current.labelsEqual(want) && len(want.Labels) > 0 {
		id, ok, err := e.store.TrackerIDByName(ctx, want.Labels[0])
		if err != nil {
			return patch, storeFail("resolving tracker name", err)
		}
		if ok {
			patch.TrackerID = &id
		} else {
			log.Warn("label has no tracker, leaving category unchanged", "label", want.Labels[0])
		}
	}
	if !current.statusEqual(want) {
		id, ok, err := e.statusIDFor(ctx, want.Status)
		if err != nil {
			return patch, err
		}
		if ok {
			patch.StatusID = &id
		} else {
			log.Warn("status name missing from tracker, leaving status unchanged", "status", want.Status)
		}
	}
	if !current.assigneeEqual(want) {
		if want.AssigneeUser == nil {
			patch.AssignedToID = new(int64)
		} else if id, ok := users.trackerFor(want.AssigneeUser); ok {
			patch.AssignedToID = &id
		} else {
			log.Warn("assignee has no tracker correlation, leaving assignee unchanged")
		}
	}
	if !current.dueDateEqual(want) {
		if want.DueDate == nil {
			patch.DueDate = new(string)
		} else {
			patch.DueDate = copyString(want.DueDate)
		}
	}
	return patch, nil
}

// forgePatch is the symmetric diff for the forge side.
func (e *Engine) forgePatch(current *Snapshot, rawDescription string, want *Snapshot, counterpartURL string, users *userIndex, log *slog.Logger) (adapters.ForgePatch, error) {
	var patch adapters.ForgePatch

	if !current.titleEqual(want) {
		patch.Title = &want.Title
	}
	if desired := withSource(want.Description, counterpartURL); rawDescription != desired {
		patch.Description = &desired
	}
	if !current.labelsEqual(want) {
		// Non-nil base: an empty wanted set must clear, not skip.
		labels := append([]string{}, want.Labels...)
		patch.Labels = &labels
	}
	if !current.statusEqual(want) {
		event := adapters.StateEventReopen
		if want.Status == adapters.StatusClosed {
			event = adapters.StateEventClose
		}
		patch.StateEvent = &event
	}
	if !current.assigneeEqual(want) {
		if want.AssigneeUser == nil {
			patch.AssigneeIDs = &[]int64{}
		} else if id, ok := users.forgeFor(want.AssigneeUser); ok {
			ids := []int64{id}
			patch.AssigneeIDs = &ids
		} else {
			log.Warn("assignee has no forge correlation, leaving assignee unchanged")
		}
	}
	if !current.dueDateEqual(want) {
		if want.DueDate == nil {
			patch.DueDate = new(string)
		} else {
			patch.DueDate = copyString(want.DueDate)
		}
	}
	return patch, nil
}
