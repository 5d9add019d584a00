package scanner

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Worktree discovery strategies. The git strategy shells out to
// `git worktree list`; the dir strategy lists `.claude/.worktrees`.
const (
	WorktreeModeGit = "git"
	WorktreeModeDir = "dir"
)

// Worktrees lists the linked worktrees of a project working tree,
// sorted by name. The main worktree is never included. Any failure
// yields an empty list.
func (s *Scanner) Worktrees(projectPath string) []WorktreeSummary {
	var out []WorktreeSummary
	switch s.worktreeMode {
	case WorktreeModeDir:
		out = worktreesFromDir(projectPath)
	default:
		out = worktreesFromGit(projectPath)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func worktreesFromGit(projectPath string) []WorktreeSummary {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = projectPath
	output, err := cmd.Output()
	if err != nil {
		return []WorktreeSummary{}
	}
	return parseWorktreePorcelain(string(output))
}

// parseWorktreePorcelain parses `git worktree list --porcelain` output:
// one block per worktree separated by blank lines, the first block
// being the main worktree. Detached worktrees have no branch line.
func parseWorktreePorcelain(output string) []WorktreeSummary {
	out := []WorktreeSummary{}
	blocks := strings.Split(strings.TrimSpace(output), "\n\n")
	for i, block := range blocks {
		if i == 0 {
			continue // main worktree
		}
		var w WorktreeSummary
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "worktree "):
				w.Path = strings.TrimPrefix(line, "worktree ")
				w.Name = filepath.Base(w.Path)
			case strings.HasPrefix(line, "branch refs/heads/"):
				branch := strings.TrimPrefix(line, "branch refs/heads/")
				w.Branch = &branch
			}
		}
		if w.Path != "" {
			out = append(out, w)
		}
	}
	return out
}

func worktreesFromDir(projectPath string) []WorktreeSummary {
	root := filepath.Join(projectPath, ".claude", ".worktrees")
	entries, err := os.ReadDir(root)
	if err != nil {
		return []WorktreeSummary{}
	}
	out := []WorktreeSummary{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, WorktreeSummary{
			Name: e.Name(),
			Path: filepath.Join(root, e.Name()),
		})
	}
	return out
}
