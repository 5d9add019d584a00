package scanner

import (
	"path"
	"strings"

	"github.com/haasonsaas/fleet/internal/prefs"
)

// Slugify lowercases a title and collapses every run of characters
// outside [a-z0-9] into a single dash, trimming dashes at both ends.
// Applying it twice changes nothing.
func Slugify(title string) string {
	out := make([]rune, 0, len(title))
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && len(out) > 0 {
				out = append(out, '-')
			}
			out = append(out, r)
			pendingDash = false
		} else {
			pendingDash = true
		}
	}
	return string(out)
}

// GroupProjects folds raw project directories into the user-configured
// groups. Each config yields one group whose patterns are matched
// against raw directory ids; session counts are summed and the newest
// activity wins. Groups keep the configured order.
func GroupProjects(raw []ProjectSummary, configs []prefs.ProjectConfig) []GroupedProject {
	groups := make([]GroupedProject, 0, len(configs))
	for _, cfg := range configs {
		g := GroupedProject{
			Slug:          Slugify(cfg.Title),
			Title:         cfg.Title,
			ProjectDirs:   append([]string{}, cfg.ProjectDirs...),
			MatchedDirIDs: []string{},
		}
		seen := map[string]bool{}
		for _, p := range raw {
			if seen[p.ID] || !matchesAny(p.ID, cfg.ProjectDirs) {
				continue
			}
			seen[p.ID] = true
			g.MatchedDirIDs = append(g.MatchedDirIDs, p.ID)
			g.SessionCount += p.SessionCount
			if laterFirst(p.LastActiveAt, g.LastActiveAt) {
				g.LastActiveAt = p.LastActiveAt
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// matchesAny reports whether a directory id matches one of the glob
// patterns. Directory ids never contain path separators, so path.Match
// wildcards behave as plain string globs. Invalid patterns match
// nothing.
func matchesAny(id string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, id); err == nil && ok {
			return true
		}
	}
	return false
}
