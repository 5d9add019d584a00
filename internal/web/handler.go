// Package web maps the HTTP API onto the scanner, controller, and
// preferences store, and serves the bundled single-page app.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/fleet/internal/prefs"
	"github.com/haasonsaas/fleet/internal/scanner"
	"github.com/haasonsaas/fleet/internal/transcript"
)

// SessionController is the slice of the process controller the API
// drives.
type SessionController interface {
	StartSession(projectID, cwd, prompt string) (string, error)
	SendMessage(sessionID, text string) error
	StopSession(sessionID string) error
	ResumeSession(sessionID string) error
}

// Handler serves the /api routes and the static SPA.
type Handler struct {
	scanner    *scanner.Scanner
	prefsStore *prefs.Store
	controller SessionController
	staticDir  string
	logger     *slog.Logger
}

// Config wires the handler's collaborators.
type Config struct {
	Scanner    *scanner.Scanner
	PrefsStore *prefs.Store
	Controller SessionController
	StaticDir  string
	Logger     *slog.Logger
}

func NewHandler(cfg *Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		scanner:    cfg.Scanner,
		prefsStore: cfg.PrefsStore,
		controller: cfg.Controller,
		staticDir:  cfg.StaticDir,
		logger:     logger.With("component", "web"),
	}
}

// Mount builds the route table. Callers wrap the result in the
// logging and recovery middleware.
func (h *Handler) Mount() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/projects", h.handleProjects)
	mux.HandleFunc("/api/projects/", h.handleProjectSubroutes)
	mux.HandleFunc("/api/directories", h.handleDirectories)
	mux.HandleFunc("/api/sessions", h.handleCreateSession)
	mux.HandleFunc("/api/sessions/", h.handleSessionSubroutes)
	mux.HandleFunc("/api/preferences", h.handlePreferences)
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/", h.staticHandler())

	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// groupedProjects joins the raw directory scan with the configured
// groupings from preferences.
func (h *Handler) groupedProjects() []scanner.GroupedProject {
	p, err := h.prefsStore.Load()
	if err != nil {
		h.logger.Warn("preferences unreadable, serving ungrouped", "error", err)
	}
	return scanner.GroupProjects(h.scanner.Projects(), p.Projects)
}

func (h *Handler) groupBySlug(slug string) (scanner.GroupedProject, bool) {
	for _, g := range h.groupedProjects() {
		if g.Slug == slug {
			return g, true
		}
	}
	return scanner.GroupedProject{}, false
}

func (h *Handler) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": h.groupedProjects()})
}

func (h *Handler) handleDirectories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"directories": h.scanner.Projects()})
}

// handleProjectSubroutes serves /api/projects/:slug/sessions and
// /api/projects/:slug/worktrees.
func (h *Handler) handleProjectSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	slug, sub, ok := strings.Cut(rest, "/")
	if !ok || slug == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch sub {
	case "sessions":
		group, found := h.groupBySlug(slug)
		if !found {
			writeError(w, http.StatusNotFound, "Unknown project")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessionsForGroup(group)})
	case "worktrees":
		worktrees := []scanner.WorktreeSummary{}
		if group, found := h.groupBySlug(slug); found {
			worktrees = h.worktreesForGroup(group)
		}
		writeJSON(w, http.StatusOK, map[string]any{"worktrees": worktrees})
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// sessionsForGroup unions sessions across every matched directory,
// newest activity first.
func (h *Handler) sessionsForGroup(group scanner.GroupedProject) []scanner.SessionSummary {
	sessions := []scanner.SessionSummary{}
	for _, p := range h.scanner.Projects() {
		for _, id := range group.MatchedDirIDs {
			if p.ID == id {
				sessions = append(sessions, h.scanner.Sessions(p.Dir())...)
				break
			}
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return laterFirst(sessions[i].LastActiveAt, sessions[j].LastActiveAt)
	})
	return sessions
}

// worktreesForGroup unions worktrees across the matched directories'
// decoded paths, deduplicated by name.
func (h *Handler) worktreesForGroup(group scanner.GroupedProject) []scanner.WorktreeSummary {
	seen := map[string]struct{}{}
	out := []scanner.WorktreeSummary{}
	for _, p := range h.scanner.Projects() {
		for _, id := range group.MatchedDirIDs {
			if p.ID != id {
				continue
			}
			for _, wt := range h.scanner.Worktrees(p.Path) {
				if _, dup := seen[wt.Name]; dup {
					continue
				}
				seen[wt.Name] = struct{}{}
				out = append(out, wt)
			}
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func laterFirst(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

type createSessionRequest struct {
	ProjectDir string `json:"projectDir"`
	Prompt     string `json:"prompt"`
	CWD        string `json:"cwd"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProjectDir == "" {
		writeError(w, http.StatusBadRequest, "projectDir is required")
		return
	}
	cwd := req.CWD
	if cwd == "" {
		cwd = scanner.DecodeProjectPath(req.ProjectDir)
	}

	sessionID, err := h.controller.StartSession(req.ProjectDir, cwd, req.Prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sessionId": sessionID})
}

// handleSessionSubroutes serves /api/sessions/:id and its stop,
// resume, and message actions.
func (h *Handler) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.serveEnrichedSession(w, sessionID)
	case action == "stop" && r.Method == http.MethodPost:
		if err := h.controller.StopSession(sessionID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID})
	case action == "resume" && r.Method == http.MethodPost:
		if err := h.controller.ResumeSession(sessionID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID})
	case action == "message" && r.Method == http.MethodPost:
		h.serveSendMessage(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// serveEnrichedSession computes the baseline the client folds live
// batches into.
func (h *Handler) serveEnrichedSession(w http.ResponseWriter, sessionID string) {
	path, ok := h.scanner.FindSessionFile(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	messages, err := transcript.ParseFile(path)
	if err != nil {
		h.logger.Error("transcript read failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": transcript.EnrichSession(messages)})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (h *Handler) serveSendMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := h.controller.SendMessage(sessionID, req.Message); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID})
}

func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, err := h.prefsStore.Load()
		if err != nil {
			h.logger.Error("preferences load failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if err := prefs.ValidatePayload(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var p prefs.Preferences
		if err := json.Unmarshal(body, &p); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if err := h.prefsStore.Save(p); err != nil {
			h.logger.Error("preferences save failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// decodeBody parses a JSON request body, replying 400 on garbage.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	if err := json.Unmarshal(body, into); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
