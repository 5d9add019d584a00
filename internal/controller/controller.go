// Package controller supervises agent subprocesses, enforcing at most
// one live process per session and reporting lifecycle transitions.
package controller

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/fleet/internal/observability"
)

// Errors callers branch on. The messages double as the HTTP error
// bodies the API serves.
var (
	ErrSessionBusy = errors.New("Session is busy")
	ErrNoProcess   = errors.New("No running process")
)

// Events receives lifecycle transitions for broadcast. All methods
// must be non-blocking; they are invoked with the controller lock held
// so transitions for one session never interleave.
type Events interface {
	SessionStarted(sessionID, projectID, cwd string, startedAt time.Time)
	SessionStopped(sessionID, reason string, stoppedAt time.Time)
	SessionError(sessionID, errText string, occurredAt time.Time)
	SessionActivity(sessionID string, updatedAt time.Time)
}

// NopEvents discards every lifecycle event.
type NopEvents struct{}

func (NopEvents) SessionStarted(string, string, string, time.Time) {}
func (NopEvents) SessionStopped(string, string, time.Time)         {}
func (NopEvents) SessionError(string, string, time.Time)           {}
func (NopEvents) SessionActivity(string, time.Time)                {}

// managed is one live agent subprocess.
type managed struct {
	cmd         *exec.Cmd
	stderr      *bytes.Buffer
	startedAt   time.Time
	userStopped bool
	done        chan struct{}
}

// Controller owns the session-to-process registry.
type Controller struct {
	agent   string
	events  Events
	metrics *observability.Metrics
	logger  *slog.Logger

	mu           sync.Mutex
	procs        map[string]*managed
	shuttingDown bool
	wg           sync.WaitGroup
}

// New builds a controller spawning the given agent command. events and
// metrics may be nil.
func New(agent string, events Events, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	if events == nil {
		events = NopEvents{}
	}
	return &Controller{
		agent:   agent,
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "controller"),
		procs:   make(map[string]*managed),
	}
}

// SendMessage delivers text to an existing session by spawning the
// agent in resume mode. Returns ErrSessionBusy while a process for the
// session is still running.
func (c *Controller) SendMessage(sessionID, text string) error {
	args := []string{"-p", "--resume", sessionID, "--", text}
	return c.spawn(sessionID, args, "", func() {
		c.events.SessionActivity(sessionID, time.Now())
	})
}

// ResumeSession re-opens a session without a new message.
func (c *Controller) ResumeSession(sessionID string) error {
	args := []string{"-p", "--resume", sessionID}
	return c.spawn(sessionID, args, "", func() {
		c.events.SessionActivity(sessionID, time.Now())
	})
}

// StartSession mints a session id and spawns the agent on it. cwd is
// the working directory for the subprocess; projectID is only echoed
// in the started event.
func (c *Controller) StartSession(projectID, cwd, prompt string) (string, error) {
	sessionID := uuid.NewString()
	args := []string{"-p", "--session-id", sessionID}
	if prompt != "" {
		args = append(args, "--", prompt)
	}
	err := c.spawn(sessionID, args, cwd, func() {
		c.events.SessionStarted(sessionID, projectID, cwd, time.Now())
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// spawn starts the agent for sessionID and registers it. announce runs
// under the registry lock once the process is up.
func (c *Controller) spawn(sessionID string, args []string, dir string, announce func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown {
		return errors.New("controller is shutting down")
	}
	if _, ok := c.procs[sessionID]; ok {
		return ErrSessionBusy
	}

	stderr := &bytes.Buffer{}
	cmd := exec.Command(c.agent, args...)
	cmd.Dir = dir
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	m := &managed{
		cmd:       cmd,
		stderr:    stderr,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	c.procs[sessionID] = m
	if c.metrics != nil {
		c.metrics.ControllerSpawns.Inc()
	}
	c.logger.Info("agent spawned", "session", sessionID, "pid", cmd.Process.Pid)

	announce()

	c.wg.Add(1)
	go c.waitExit(sessionID, m)
	return nil
}

// waitExit reaps the subprocess and emits its terminal events. The
// registry delete and the event emissions happen under one lock hold,
// so no other operation on the session observes a half-finished exit.
func (c *Controller) waitExit(sessionID string, m *managed) {
	defer c.wg.Done()
	err := m.cmd.Wait()

	c.mu.Lock()
	delete(c.procs, sessionID)
	suppressed := c.shuttingDown
	userStopped := m.userStopped

	if !suppressed {
		now := time.Now()
		switch {
		case userStopped:
			c.recordExit("user")
			c.events.SessionStopped(sessionID, "user", now)
		case err != nil:
			c.recordExit("errored")
			c.logger.Warn("agent exited with error", "session", sessionID, "error", err)
			c.events.SessionError(sessionID, exitErrorText(err, m.stderr), now)
			c.events.SessionStopped(sessionID, "errored", now)
		default:
			c.recordExit("completed")
			c.events.SessionStopped(sessionID, "completed", now)
		}
	}
	c.mu.Unlock()

	close(m.done)
}

func (c *Controller) recordExit(status string) {
	if c.metrics != nil {
		c.metrics.ControllerExits.WithLabelValues(status).Inc()
	}
}

// exitErrorText prefers the captured stderr over the bare exit status.
func exitErrorText(err error, stderr *bytes.Buffer) string {
	if text := strings.TrimSpace(stderr.String()); text != "" {
		return text
	}
	return err.Error()
}

// StopSession interrupts the session's process and waits for it to
// exit. Returns ErrNoProcess when nothing is running.
func (c *Controller) StopSession(sessionID string) error {
	c.mu.Lock()
	m, ok := c.procs[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNoProcess
	}
	m.userStopped = true
	if err := m.cmd.Process.Signal(syscall.SIGINT); err != nil {
		c.logger.Warn("interrupt failed", "session", sessionID, "error", err)
	}
	c.mu.Unlock()

	<-m.done
	return nil
}

// Running reports whether a process is registered for the session.
func (c *Controller) Running(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.procs[sessionID]
	return ok
}

// Shutdown suppresses further lifecycle events, terminates every
// managed process, and waits for the exit handlers to finish.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.shuttingDown = true
	for sessionID, m := range c.procs {
		if err := m.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			c.logger.Warn("terminate failed", "session", sessionID, "error", err)
		}
	}
	c.procs = make(map[string]*managed)
	c.mu.Unlock()

	c.wg.Wait()
}
