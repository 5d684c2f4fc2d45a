// Package e2e exercises the daemon wiring end to end. Mocked Redmine
// and GitLab APIs (httptest servers under mocks/) stand in for the real
// platforms while the actual adapters, retrying transport,
// reconciliation engine, and SQLite mapping store run underneath.
//
// A full cycle covers linking a tracker project to a forge repo through
// its custom field, correlating members across the platforms, pairing
// issues by title or creating them on the missing side, propagating
// edits, merging conflicting edits field by field, and sweeping deleted
// issues without touching the survivor.
//
// The suite skips itself under -short:
//
//	go test -v -count=1 ./e2e/...
package e2e
