// Package tail streams newly appended bytes of active session files as
// parsed message batches. Each tailed session keeps a byte offset so
// history is never re-read.
package tail

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/fleet/internal/observability"
	"github.com/haasonsaas/fleet/internal/transcript"
)

// PathResolver locates the transcript file for a session id.
type PathResolver func(sessionID string) (string, bool)

// Tailer manages one cursor per actively subscribed session. Cursors
// are created on first subscription at the current end of file, so
// subscribers only receive appends; the baseline is served over REST.
type Tailer struct {
	resolve PathResolver
	emit    func(transcript.MessageBatch)
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*cursor

	pulseStop chan struct{}
	pulseWg   sync.WaitGroup
}

// cursor is the per-session tail state. offset is the authoritative
// position; partial buffers a trailing line still waiting for its
// newline; lineIndex counts physical lines consumed so far.
type cursor struct {
	sessionID string
	path      string
	offset    int64
	partial   []byte
	lineIndex int
	refs      int
}

// New builds a tailer. metrics may be nil.
func New(resolve PathResolver, emit func(transcript.MessageBatch), metrics *observability.Metrics, logger *slog.Logger) *Tailer {
	return &Tailer{
		resolve:  resolve,
		emit:     emit,
		logger:   logger.With("component", "tail"),
		metrics:  metrics,
		sessions: make(map[string]*cursor),
	}
}

// Subscribe registers interest in a session, creating its cursor at
// the current file size on first call. Reference counted: one Release
// per Subscribe.
func (t *Tailer) Subscribe(sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.sessions[sessionID]; ok {
		c.refs++
		return nil
	}

	path, ok := t.resolve(sessionID)
	if !ok {
		return fmt.Errorf("no transcript file for session %s", sessionID)
	}

	c := &cursor{sessionID: sessionID, path: path, refs: 1}
	if info, err := os.Stat(path); err == nil {
		c.offset = info.Size()
		lines, err := countLines(path, c.offset)
		if err != nil {
			t.logger.Warn("cannot count baseline lines", "session", sessionID, "error", err)
		}
		c.lineIndex = lines
	}
	t.sessions[sessionID] = c
	t.logger.Debug("tail started", "session", sessionID, "offset", c.offset)
	return nil
}

// Release drops one subscription reference; the cursor is retired when
// the last reference goes.
func (t *Tailer) Release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	c.refs--
	if c.refs <= 0 {
		delete(t.sessions, sessionID)
		t.logger.Debug("tail retired", "session", sessionID)
	}
}

// Active reports whether a cursor exists for the session.
func (t *Tailer) Active(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// Advance reads any bytes appended past the session's offset, parses
// the complete lines among them, and emits one batch covering the read
// range. A shrunken file resets the cursor to the start.
func (t *Tailer) Advance(sessionID string) {
	t.mu.Lock()
	c, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}

	batch, err := t.advanceLocked(c)
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("tail advance failed", "session", sessionID, "error", err)
		return
	}
	if batch == nil {
		return
	}
	if t.metrics != nil {
		t.metrics.RecordBatch(len(batch.Messages))
	}
	t.emit(*batch)
}

// AdvanceAll pulses every active cursor. Called on the poll interval
// to catch appends the watcher missed.
func (t *Tailer) AdvanceAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Advance(id)
	}
}

func (t *Tailer) advanceLocked(c *cursor) (*transcript.MessageBatch, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, err
	}
	size := info.Size()

	if size < c.offset {
		// The file shrank: a rotation or rewrite. Start over.
		t.logger.Info("session file truncated, restarting tail",
			"session", c.sessionID, "offset", c.offset, "size", size)
		c.offset = 0
		c.partial = nil
		c.lineIndex = 0
	}
	if size == c.offset {
		return nil, nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, size-c.offset)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}

	buf := append(c.partial, data...)
	lines := bytes.Split(buf, []byte("\n"))
	c.partial = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var messages []transcript.ParsedMessage
	for _, line := range lines {
		messages = append(messages, transcript.ParseLine(string(line), c.lineIndex)...)
		c.lineIndex++
	}

	batch := &transcript.MessageBatch{
		SessionID: c.sessionID,
		Messages:  messages,
		ByteRange: transcript.ByteRange{Start: c.offset, End: size},
	}
	c.offset = size
	return batch, nil
}

// StartPulse advances every cursor on a fixed interval until Stop.
func (t *Tailer) StartPulse(interval time.Duration) {
	if interval <= 0 {
		return
	}
	t.mu.Lock()
	if t.pulseStop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.pulseStop = stop
	t.mu.Unlock()

	t.pulseWg.Add(1)
	go func() {
		defer t.pulseWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.AdvanceAll()
			}
		}
	}()
}

// Stop halts the pulse loop and drops every cursor.
func (t *Tailer) Stop() {
	t.mu.Lock()
	stop := t.pulseStop
	t.pulseStop = nil
	t.sessions = make(map[string]*cursor)
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	t.pulseWg.Wait()
}

// countLines counts newline characters in the first limit bytes of
// path, which is the next line index for appended content.
func countLines(path string, limit int64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	buf := make([]byte, 64*1024)
	var read int64
	for read < limit {
		chunk := int64(len(buf))
		if remaining := limit - read; remaining < chunk {
			chunk = remaining
		}
		n, err := f.Read(buf[:chunk])
		count += bytes.Count(buf[:n], []byte("\n"))
		read += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
	}
	return count, nil
}
