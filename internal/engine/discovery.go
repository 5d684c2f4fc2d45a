package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/store"
)

// refreshReferences re-reads the tracker's category and status
// vocabularies into the reference cache. It runs before anything else in
// a pass so name-to-id translation at patch time matches what the
// tracker currently reports.
func (e *Engine) refreshReferences(ctx context.Context) error {
	trackers, err := e.tracker.ListTrackers(ctx)
	if err != nil {
		return fmt.Errorf("listing trackers: %w", err)
	}
	if err := e.store.RefreshTrackers(ctx, toRefRows(trackers)); err != nil {
		return storeFail("refreshing trackers", err)
	}
	statuses, err := e.tracker.ListIssueStatuses(ctx)
	if err != nil {
		return fmt.Errorf("listing issue statuses: %w", err)
	}
	if err := e.store.RefreshStatuses(ctx, toRefRows(statuses)); err != nil {
		return storeFail("refreshing statuses", err)
	}
	return nil
}

func toRefRows(refs []adapters.Ref) []store.RefRow {
	rows := make([]store.RefRow, len(refs))
	for i, r := range refs {
		rows[i] = store.RefRow{ExternalID: r.ID, Name: r.Name}
	}
	return rows
}

// discoverProjects scans tracker projects for a repo URL in the
// configured custom field, upserts the project pair, and resolves the
// forge's numeric project id for any repo that lacks one. Resolution
// failures leave the project unlinked and are retried next pass.
func (e *Engine) discoverProjects(ctx context.Context, log *slog.Logger) error {
	infos, err := e.tracker.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing tracker projects: %w", err)
	}

	for _, info := range infos {
		raw := info.CustomFields[e.cfg.CustomFieldName]
		repoURL, path, ok := parseRepoURL(raw)
		if !ok {
			continue
		}

		p, err := e.store.UpsertProject(ctx, info.ID, info.Key, info.Name)
		if err != nil {
			return storeFail("upserting project", err)
		}
		if err := e.store.UpsertRepo(ctx, p.ID, repoURL, path); err != nil {
			return storeFail("upserting repo", err)
		}

		if p.Repo != nil && p.Repo.GitLabProjectID != nil && p.Repo.Path == path {
			continue
		}
		id, err := e.forge.ResolveProjectID(ctx, path)
		if err != nil {
			log.Warn("repo path did not resolve, project stays unlinked",
				"project", info.Key, "path", path, "error", err)
			continue
		}
		if err := e.store.SetRepoGitLabID(ctx, p.ID, id); err != nil {
			return storeFail("storing resolved repo id", err)
		}
		log.Info("linked project to forge repo", "project", info.Key, "path", path, "forge_project_id", id)
	}
	return nil
}

// parseRepoURL accepts an absolute http(s) URL to a forge repository and
// returns the normalized URL plus the namespace path, with any trailing
// .git stripped. Anything else is rejected.
func parseRepoURL(raw string) (repoURL, path string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", false
	}
	path = strings.Trim(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	if !strings.Contains(path, "/") {
		return "", "", false
	}
	u.Path = "/" + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), path, true
}
