package tail

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/fleet/internal/transcript"
)

const testSessionID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func newTestTailer(t *testing.T, path string) (*Tailer, *[]transcript.MessageBatch) {
	t.Helper()
	batches := &[]transcript.MessageBatch{}
	tailer := New(
		func(sessionID string) (string, bool) {
			if sessionID == testSessionID {
				return path, true
			}
			return "", false
		},
		func(b transcript.MessageBatch) { *batches = append(*batches, b) },
		nil,
		slog.Default(),
	)
	return tailer, batches
}

func write(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func promptLine(text string) string {
	return `{"type":"user","uuid":"u-` + text + `","sessionId":"s","timestamp":"2025-01-01T00:00:00Z","message":{"role":"user","content":"` + text + `"}}` + "\n"
}

func TestAdvanceDeliversOnlyAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, testSessionID+".jsonl")

	baseline := promptLine("old-one") + promptLine("old-two")
	write(t, path, baseline)
	baselineSize := int64(len(baseline))

	tailer, batches := newTestTailer(t, path)
	if err := tailer.Subscribe(testSessionID); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Nothing appended yet: no batch.
	tailer.Advance(testSessionID)
	if len(*batches) != 0 {
		t.Fatalf("expected no batch before appends, got %d", len(*batches))
	}

	appended := promptLine("new-one") + promptLine("new-two") + `{"type":"user","uui`
	write(t, path, appended)

	tailer.Advance(testSessionID)
	if len(*batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(*batches))
	}
	batch := (*batches)[0]
	if batch.SessionID != testSessionID {
		t.Errorf("expected session %s, got %s", testSessionID, batch.SessionID)
	}
	if batch.ByteRange.Start != baselineSize {
		t.Errorf("expected byte range start %d, got %d", baselineSize, batch.ByteRange.Start)
	}
	if want := baselineSize + int64(len(appended)); batch.ByteRange.End != want {
		t.Errorf("expected byte range end %d, got %d", want, batch.ByteRange.End)
	}
	if len(batch.Messages) != 2 {
		t.Fatalf("expected 2 complete messages, got %d", len(batch.Messages))
	}
	// Line indexes continue past the baseline's two lines.
	if got := batch.Messages[0].Line(); got != 2 {
		t.Errorf("expected first appended line index 2, got %d", got)
	}
	if got := batch.Messages[1].Line(); got != 3 {
		t.Errorf("expected second appended line index 3, got %d", got)
	}
}

func TestPartialLineHeldUntilComplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, testSessionID+".jsonl")
	write(t, path, "")

	tailer, batches := newTestTailer(t, path)
	if err := tailer.Subscribe(testSessionID); err != nil {
		t.Fatal(err)
	}

	full := promptLine("split")
	head, tailPart := full[:20], full[20:]

	write(t, path, head)
	tailer.Advance(testSessionID)
	if len(*batches) != 1 {
		t.Fatalf("expected a batch covering the partial bytes, got %d", len(*batches))
	}
	if got := len((*batches)[0].Messages); got != 0 {
		t.Errorf("expected no messages from a partial line, got %d", got)
	}

	write(t, path, tailPart)
	tailer.Advance(testSessionID)
	if len(*batches) != 2 {
		t.Fatalf("expected second batch, got %d", len(*batches))
	}
	second := (*batches)[1]
	if len(second.Messages) != 1 {
		t.Fatalf("expected the completed line to parse, got %d messages", len(second.Messages))
	}
	prompt, ok := second.Messages[0].(transcript.UserPrompt)
	if !ok {
		t.Fatalf("expected UserPrompt, got %T", second.Messages[0])
	}
	if prompt.Text != "split" {
		t.Errorf("expected prompt text split, got %q", prompt.Text)
	}
	if prompt.LineIndex != 0 {
		t.Errorf("expected line index 0, got %d", prompt.LineIndex)
	}
}

func TestTruncationRestartsFromZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, testSessionID+".jsonl")
	write(t, path, promptLine("first")+promptLine("second"))

	tailer, batches := newTestTailer(t, path)
	if err := tailer.Subscribe(testSessionID); err != nil {
		t.Fatal(err)
	}

	// Rewrite the file smaller than the cursor.
	replacement := promptLine("rewritten")
	if err := os.WriteFile(path, []byte(replacement), 0o644); err != nil {
		t.Fatal(err)
	}

	tailer.Advance(testSessionID)
	if len(*batches) != 1 {
		t.Fatalf("expected 1 batch after truncation, got %d", len(*batches))
	}
	batch := (*batches)[0]
	if batch.ByteRange.Start != 0 {
		t.Errorf("expected restart from byte 0, got %d", batch.ByteRange.Start)
	}
	if len(batch.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(batch.Messages))
	}
	if batch.Messages[0].Line() != 0 {
		t.Errorf("expected line index reset to 0, got %d", batch.Messages[0].Line())
	}
}

func TestSubscribeIsRefCounted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, testSessionID+".jsonl")
	write(t, path, "")

	tailer, _ := newTestTailer(t, path)
	if err := tailer.Subscribe(testSessionID); err != nil {
		t.Fatal(err)
	}
	if err := tailer.Subscribe(testSessionID); err != nil {
		t.Fatal(err)
	}

	tailer.Release(testSessionID)
	if !tailer.Active(testSessionID) {
		t.Error("cursor should survive first release")
	}
	tailer.Release(testSessionID)
	if tailer.Active(testSessionID) {
		t.Error("cursor should retire on last release")
	}
}

func TestSubscribeUnknownSession(t *testing.T) {
	tailer, _ := newTestTailer(t, "/nowhere")
	if err := tailer.Subscribe("00000000-0000-0000-0000-000000000000"); err == nil {
		t.Error("expected error for unresolvable session")
	}
}
