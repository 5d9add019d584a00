package scanner

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const porcelainSample = `worktree /home/me/proj
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /home/me/proj-wt/feature-x
HEAD 2222222222222222222222222222222222222222
branch refs/heads/feature-x

worktree /home/me/proj-wt/experiment
HEAD 3333333333333333333333333333333333333333
detached
`

func TestParseWorktreePorcelain(t *testing.T) {
	out := parseWorktreePorcelain(porcelainSample)
	if len(out) != 2 {
		t.Fatalf("expected 2 linked worktrees, got %d", len(out))
	}
	for _, w := range out {
		if w.Path == "/home/me/proj" {
			t.Error("the main worktree must never be returned")
		}
	}

	feature := out[0]
	if feature.Name != "feature-x" || feature.Path != "/home/me/proj-wt/feature-x" {
		t.Errorf("unexpected worktree: %+v", feature)
	}
	if feature.Branch == nil || *feature.Branch != "feature-x" {
		t.Errorf("expected branch feature-x, got %v", feature.Branch)
	}

	detached := out[1]
	if detached.Branch != nil {
		t.Errorf("expected nil branch for detached worktree, got %q", *detached.Branch)
	}
}

func TestParseWorktreePorcelain_SingleMainOnly(t *testing.T) {
	out := parseWorktreePorcelain("worktree /home/me/proj\nHEAD 1111\nbranch refs/heads/main\n")
	if len(out) != 0 {
		t.Errorf("expected no linked worktrees, got %v", out)
	}
}

func TestWorktrees_DirMode(t *testing.T) {
	project := t.TempDir()
	root := filepath.Join(project, ".claude", ".worktrees")
	for _, name := range []string{"zeta", "alpha"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(nil, WorktreeModeDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := s.Worktrees(project)
	if len(out) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(out))
	}
	if out[0].Name != "alpha" || out[1].Name != "zeta" {
		t.Errorf("expected alphabetical order, got %s then %s", out[0].Name, out[1].Name)
	}
	if out[0].Branch != nil {
		t.Error("expected nil branch in dir mode")
	}
	if out[0].Path != filepath.Join(root, "alpha") {
		t.Errorf("unexpected path %q", out[0].Path)
	}
}

func TestWorktrees_MissingDirReturnsEmpty(t *testing.T) {
	s := New(nil, WorktreeModeDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := s.Worktrees(filepath.Join(t.TempDir(), "missing"))
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", out)
	}
}

func TestWorktrees_GitModeFailureReturnsEmpty(t *testing.T) {
	s := New(nil, WorktreeModeGit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := s.Worktrees(t.TempDir())
	if out == nil {
		t.Error("expected empty non-nil slice on git failure")
	}
}
