package engine

import (
	"fmt"
	"strings"
)

const sourcePrefix = "source:"

// stripSource removes every leading Source: line, and the blank lines
// that follow it, from a description. What remains is the payload that
// both platforms are expected to agree on.
func stripSource(description string) string {
	rest := description
	for {
		line, tail, found := strings.Cut(rest, "\n")
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), sourcePrefix) {
			return rest
		}
		if !found {
			return ""
		}
		rest = tail
		for {
			line, tail, found = strings.Cut(rest, "\n")
			if strings.TrimSpace(line) != "" {
				break
			}
			if !found {
				return ""
			}
			rest = tail
		}
	}
}

// withSource renders the side-specific description text: a fresh
// Source: line pointing at the counterpart, a blank separator, then the
// payload. Applying it twice with the same URL is a no-op.
func withSource(payload, counterpartURL string) string {
	if payload == "" {
		return "Source: " + counterpartURL
	}
	return "Source: " + counterpartURL + "\n\n" + payload
}

// trackerIssueURL builds the public address of a tracker issue.
func trackerIssueURL(linkBase string, id int64) string {
	return fmt.Sprintf("%s/issues/%d", strings.TrimRight(linkBase, "/"), id)
}

// forgeIssueURL builds the public address of a forge issue from the
// repository path and the project-scoped iid.
func forgeIssueURL(linkBase, path string, iid int64) string {
	return fmt.Sprintf("%s/%s/-/issues/%d", strings.TrimRight(linkBase, "/"), strings.Trim(path, "/"), iid)
}
