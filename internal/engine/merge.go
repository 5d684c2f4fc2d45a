package engine

// outcome describes what a reconciliation round decided for one mapping.
type outcome int

const (
	outcomeNoop outcome = iota
	outcomeTrackerWins
	outcomeForgeWins
	outcomeMerged
	outcomeDeleted
)

func (o outcome) String() string {
	switch o {
	case outcomeTrackerWins:
		return "tracker-wins"
	case outcomeForgeWins:
		return "forge-wins"
	case outcomeMerged:
		return "merged"
	case outcomeDeleted:
		return "deleted"
	default:
		return "noop"
	}
}

// classify compares both live snapshots against the canonical base.
// A nil canonical means the pair has never been reconciled; the forge
// side is treated as the initial writer so the first pass converges the
// tracker toward it.
func classify(canonical, tracker, forge *Snapshot) outcome {
	if canonical == nil {
		return outcomeForgeWins
	}
	trackerClean := tracker.Equal(canonical)
	forgeClean := forge.Equal(canonical)
	switch {
	case trackerClean && forgeClean:
		return outcomeNoop
	case forgeClean:
		return outcomeTrackerWins
	case trackerClean:
		return outcomeForgeWins
	default:
		return outcomeMerged
	}
}

// merge builds the composite winner for a both-sides conflict. Each
// field is decided independently: a field changed on one side keeps
// that side's value, a field changed on both falls back to whichever
// view was updated later, with ties going to the forge. The result may
// match neither side as a whole.
func merge(canonical, tracker, forge *Snapshot) *Snapshot {
	forgeNewer := !tracker.UpdatedAt.After(forge.UpdatedAt)
	winner := &Snapshot{V: snapshotVersion, UpdatedAt: tracker.UpdatedAt}
	if forge.UpdatedAt.After(tracker.UpdatedAt) {
		winner.UpdatedAt = forge.UpdatedAt
	}

	pick := func(trackerChanged, forgeChanged bool) *Snapshot {
		switch {
		case trackerChanged && forgeChanged:
			if forgeNewer {
				return forge
			}
			return tracker
		case trackerChanged:
			return tracker
		case forgeChanged:
			return forge
		default:
			return canonical
		}
	}

	src := pick(!tracker.titleEqual(canonical), !forge.titleEqual(canonical))
	winner.Title = src.Title

	src = pick(!tracker.descriptionEqual(canonical), !forge.descriptionEqual(canonical))
	winner.Description = src.Description

	src = pick(!tracker.labelsEqual(canonical), !forge.labelsEqual(canonical))
	winner.Labels = append([]string(nil), src.Labels...)

	src = pick(!tracker.assigneeEqual(canonical), !forge.assigneeEqual(canonical))
	winner.AssigneeUser = copyInt64(src.AssigneeUser)

	src = pick(!tracker.dueDateEqual(canonical), !forge.dueDateEqual(canonical))
	winner.DueDate = copyString(src.DueDate)

	src = pick(!tracker.statusEqual(canonical), !forge.statusEqual(canonical))
	winner.Status = src.Status

	return winner
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
