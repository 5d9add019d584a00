// Package scanner discovers projects and sessions under the configured
// base paths and derives lightweight summaries without loading full
// transcripts into memory.
package scanner

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/fleet/internal/pricing"
	"github.com/haasonsaas/fleet/internal/transcript"
)

const (
	initialScanBufSize = 64 * 1024
	maxLineSize        = 64 * 1024 * 1024

	// reservedMemoryDir is the agent's own notes directory that lives
	// alongside project directories and never holds sessions.
	reservedMemoryDir = "memory"

	firstPromptLimit = 200
)

// sessionFileRe matches session file stems: lowercase UUIDs.
var sessionFileRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ProjectSummary describes one raw project directory under a base path.
type ProjectSummary struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	Path         string     `json:"path"`
	SessionCount int        `json:"sessionCount"`
	LastActiveAt *time.Time `json:"lastActiveAt"`
}

// Dir returns the on-disk directory the summary was scanned from.
func (p ProjectSummary) Dir() string {
	return filepath.Join(p.Source, p.ID)
}

// SessionSummary is the list-view projection of one session file.
type SessionSummary struct {
	SessionID                string     `json:"sessionId"`
	FirstPrompt              *string    `json:"firstPrompt"`
	Model                    *string    `json:"model"`
	StartedAt                *time.Time `json:"startedAt"`
	LastActiveAt             *time.Time `json:"lastActiveAt"`
	CWD                      *string    `json:"cwd"`
	GitBranch                *string    `json:"gitBranch"`
	InputTokens              int        `json:"inputTokens"`
	OutputTokens             int        `json:"outputTokens"`
	CacheCreationInputTokens int        `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int        `json:"cacheReadInputTokens"`
	Cost                     float64    `json:"cost"`
}

// WorktreeSummary is one linked git worktree of a project.
type WorktreeSummary struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	Branch *string `json:"branch"`
}

// GroupedProject is a user-configured grouping of raw project
// directories.
type GroupedProject struct {
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	ProjectDirs   []string   `json:"projectDirs"`
	MatchedDirIDs []string   `json:"matchedDirIds"`
	SessionCount  int        `json:"sessionCount"`
	LastActiveAt  *time.Time `json:"lastActiveAt"`
}

// Scanner walks base paths for projects and session files.
type Scanner struct {
	basePaths    []string
	worktreeMode string
	logger       *slog.Logger
}

func New(basePaths []string, worktreeMode string, logger *slog.Logger) *Scanner {
	return &Scanner{
		basePaths:    basePaths,
		worktreeMode: worktreeMode,
		logger:       logger.With("component", "scanner"),
	}
}

// Projects lists every project directory under every base path, most
// recently active first. The same directory name under two base paths
// yields two entries distinguished by Source.
func (s *Scanner) Projects() []ProjectSummary {
	out := []ProjectSummary{}
	for _, base := range s.basePaths {
		entries, err := os.ReadDir(base)
		if err != nil {
			s.logger.Warn("skipping unreadable base path", "path", base, "error", err)
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasPrefix(name, ".") || name == reservedMemoryDir {
				continue
			}
			count, last := s.sessionFileStats(filepath.Join(base, name))
			out = append(out, ProjectSummary{
				ID:           name,
				Source:       base,
				Path:         DecodeProjectPath(name),
				SessionCount: count,
				LastActiveAt: last,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return laterFirst(out[i].LastActiveAt, out[j].LastActiveAt)
	})
	return out
}

// sessionFileStats counts session files in dir and returns the latest
// modification time among them.
func (s *Scanner) sessionFileStats(dir string) (int, *time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("skipping unreadable project dir", "path", dir, "error", err)
		return 0, nil
	}
	var count int
	var last *time.Time
	for _, e := range entries {
		if !IsSessionFile(e.Name()) {
			continue
		}
		count++
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if last == nil || mod.After(*last) {
			last = &mod
		}
	}
	return count, last
}

// Sessions summarizes every session file in a project directory, most
// recently active first. Unreadable files are logged and skipped.
func (s *Scanner) Sessions(projectDir string) []SessionSummary {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		s.logger.Warn("skipping unreadable project dir", "path", projectDir, "error", err)
		return []SessionSummary{}
	}

	out := []SessionSummary{}
	for _, e := range entries {
		if !IsSessionFile(e.Name()) {
			continue
		}
		sum, err := ExtractSessionSummary(filepath.Join(projectDir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable session", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return laterFirst(out[i].LastActiveAt, out[j].LastActiveAt)
	})
	return out
}

// ExtractSessionSummary reads a session file once, front to back,
// collecting the earliest timestamp, the first real prompt with its
// cwd and branch, the first non-synthetic model, last-wins usage per
// message id, and the timestamp of the last line that carries one.
func ExtractSessionSummary(path string) (SessionSummary, error) {
	sum := SessionSummary{
		SessionID: strings.TrimSuffix(filepath.Base(path), ".jsonl"),
	}

	f, err := os.Open(path)
	if err != nil {
		return sum, fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	type respUsage struct {
		model string
		usage transcript.Usage
	}
	var (
		responses []respUsage
		respIdx   = map[string]int{}
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, initialScanBufSize), maxLineSize)
	lineIndex := 0
	for sc.Scan() {
		for _, m := range transcript.ParseLine(sc.Text(), lineIndex) {
			if ts, ok := transcript.ParseTimestamp(transcript.TimestampOf(m)); ok {
				if sum.StartedAt == nil || ts.Before(*sum.StartedAt) {
					t := ts
					sum.StartedAt = &t
				}
				t := ts
				sum.LastActiveAt = &t
			}

			switch v := m.(type) {
			case transcript.UserPrompt:
				if v.IsMeta {
					continue
				}
				if sum.FirstPrompt == nil && strings.TrimSpace(v.Text) != "" {
					fp := transcript.Truncate(v.Text, firstPromptLimit)
					sum.FirstPrompt = &fp
				}
				if sum.CWD == nil && v.CWD != "" {
					cwd := v.CWD
					sum.CWD = &cwd
				}
				if sum.GitBranch == nil && v.GitBranch != "" {
					branch := v.GitBranch
					sum.GitBranch = &branch
				}
			case transcript.AssistantBlock:
				if sum.Model == nil && v.Model != "" && !v.IsSynthetic {
					model := v.Model
					sum.Model = &model
				}
				if i, ok := respIdx[v.MessageID]; ok {
					responses[i].usage = v.Usage
				} else {
					respIdx[v.MessageID] = len(responses)
					responses = append(responses, respUsage{model: v.Model, usage: v.Usage})
				}
			}
		}
		lineIndex++
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("scan session: %w", err)
	}

	for _, r := range responses {
		sum.InputTokens += r.usage.InputTokens
		sum.OutputTokens += r.usage.OutputTokens
		sum.CacheCreationInputTokens += r.usage.CacheCreationInputTokens
		sum.CacheReadInputTokens += r.usage.CacheReadInputTokens
		sum.Cost += pricing.CostFor(r.model, pricing.Usage{
			InputTokens:              r.usage.InputTokens,
			OutputTokens:             r.usage.OutputTokens,
			CacheCreationInputTokens: r.usage.CacheCreationInputTokens,
			CacheReadInputTokens:     r.usage.CacheReadInputTokens,
		})
	}
	return sum, nil
}

// FindSessionFile locates the transcript for a session id anywhere
// under the base paths.
func (s *Scanner) FindSessionFile(sessionID string) (string, bool) {
	name := sessionID + ".jsonl"
	for _, base := range s.basePaths {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Name() == reservedMemoryDir {
				continue
			}
			candidate := filepath.Join(base, e.Name(), name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

// IsSessionFile reports whether name is a session transcript: a
// lowercase UUID stem with a .jsonl extension.
func IsSessionFile(name string) bool {
	stem, ok := strings.CutSuffix(name, ".jsonl")
	if !ok {
		return false
	}
	return sessionFileRe.MatchString(stem)
}

// SessionIDFromFile returns the session id for a transcript filename,
// or "" when the name is not a session file.
func SessionIDFromFile(name string) string {
	if !IsSessionFile(name) {
		return ""
	}
	return strings.TrimSuffix(name, ".jsonl")
}

// DecodeProjectPath inverts the slash encoding of a project directory
// id into a display path. The encoding is lossy for path segments that
// themselves contain dashes, so the result is for display only.
func DecodeProjectPath(id string) string {
	return strings.ReplaceAll(id, "-", "/")
}

// laterFirst orders timestamps newest first with nils last.
func laterFirst(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
