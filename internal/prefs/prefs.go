// Package prefs persists user preferences (project groupings) as a
// JSON settings file under the user config directory.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProjectConfig groups one or more project directories under a title.
// ProjectDirs holds glob patterns matched against raw directory ids.
type ProjectConfig struct {
	Title       string   `json:"title"`
	ProjectDirs []string `json:"projectDirs"`
}

// Preferences is the full persisted document.
type Preferences struct {
	Projects []ProjectConfig `json:"projects"`
}

// legacyPreferences is the pre-grouping shape, a flat list of pinned
// directory ids. It is migrated on read.
type legacyPreferences struct {
	PinnedProjects []string `json:"pinnedProjects"`
}

// Store reads and writes the settings file. Writes are serialized and
// atomic (temp file plus rename).
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// DefaultPath returns <user-config-dir>/fleet/settings.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "fleet", "settings.json"), nil
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With("component", "prefs"),
	}
}

// Load reads the settings file. A missing file yields empty
// preferences. The legacy pinnedProjects shape is migrated in memory;
// the file is rewritten in the new shape on the next Save.
func (s *Store) Load() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := Preferences{Projects: []ProjectConfig{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("read preferences: %w", err)
	}

	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return empty, fmt.Errorf("decode preferences: %w", err)
	}
	if p.Projects != nil {
		return p, nil
	}

	var legacy legacyPreferences
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.PinnedProjects != nil {
		s.logger.Info("migrating legacy pinned projects", "count", len(legacy.PinnedProjects))
		return migrateLegacy(legacy), nil
	}
	return empty, nil
}

// Save writes preferences as pretty-printed JSON with a trailing
// newline, creating the parent directory as needed.
func (s *Store) Save(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Projects == nil {
		p.Projects = []ProjectConfig{}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp preferences: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close preferences: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

func migrateLegacy(legacy legacyPreferences) Preferences {
	p := Preferences{Projects: make([]ProjectConfig, 0, len(legacy.PinnedProjects))}
	for _, id := range legacy.PinnedProjects {
		p.Projects = append(p.Projects, ProjectConfig{
			Title:       titleFromDirID(id),
			ProjectDirs: []string{id},
		})
	}
	return p
}

// titleFromDirID derives a display title from a slash-encoded directory
// id: the last path segment of the decoded path.
func titleFromDirID(id string) string {
	segments := strings.Split(id, "-")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return id
}
