package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/fleet/internal/config"
)

const testSessionID = "7f0a1533-9a6a-4b1f-8a54-30c7a1b6b9d1"

func promptLine(text string) string {
	return `{"type":"user","uuid":"u1","sessionId":"s","timestamp":"2025-03-01T10:00:00Z","message":{"role":"user","content":"` + text + `"}}` + "\n"
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	base := t.TempDir()
	project := filepath.Join(base, "-Users-me-app")
	if err := os.MkdirAll(project, 0o755); err != nil {
		t.Fatal(err)
	}
	sessionFile := filepath.Join(project, testSessionID+".jsonl")
	if err := os.WriteFile(sessionFile, []byte(promptLine("hello")), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.BasePaths = []string{base}
	cfg.AgentCommand = "true"
	cfg.DebounceMs = 20
	cfg.PollIntervalMs = 50
	cfg.PrefsPath = filepath.Join(t.TempDir(), "settings.json")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, sessionFile
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}
	return resp.StatusCode, payload
}

func TestServerServesAPI(t *testing.T) {
	s, _ := newTestServer(t)
	baseURL := "http://" + s.Addr()

	status, payload := getJSON(t, baseURL+"/healthz")
	if status != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("healthz: status %d payload %v", status, payload)
	}

	status, payload = getJSON(t, baseURL+"/api/projects")
	if status != http.StatusOK {
		t.Fatalf("projects: status %d", status)
	}
	if projects := payload["projects"].([]any); len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}

	status, payload = getJSON(t, baseURL+"/api/sessions/"+testSessionID)
	if status != http.StatusOK {
		t.Fatalf("session: status %d", status)
	}
	if payload["session"] == nil {
		t.Error("expected enriched session payload")
	}
}

func TestServerExportsMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	baseURL := "http://" + s.Addr()

	// Generate one logged request so the counter exists.
	if status, _ := getJSON(t, baseURL+"/api/projects"); status != http.StatusOK {
		t.Fatalf("projects: status %d", status)
	}

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "fleet_http_requests_total") {
		t.Error("expected fleet_http_requests_total in metrics exposition")
	}
}

func TestServerStreamsAppendedLines(t *testing.T) {
	s, sessionFile := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sub := `{"type":"subscribe","sessionId":"` + testSessionID + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatal(err)
	}
	// Let the subscription register before appending.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(sessionFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(promptLine("second prompt")); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no batch frame arrived: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		if frame["type"] != "messages" {
			continue
		}
		if frame["sessionId"] != testSessionID {
			t.Fatalf("batch for wrong session: %v", frame["sessionId"])
		}
		messages := frame["messages"].([]any)
		if len(messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(messages))
		}
		return
	}
}
