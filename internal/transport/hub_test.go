package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/fleet/internal/transcript"
)

var errSubscribe = errors.New("no transcript file")

// fakeTail records subscribe/release calls.
type fakeTail struct {
	mu         sync.Mutex
	subscribes []string
	releases   []string
	failWith   error
}

func (f *fakeTail) Subscribe(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.subscribes = append(f.subscribes, sessionID)
	return nil
}

func (f *fakeTail) Release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, sessionID)
}

func (f *fakeTail) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes), len(f.releases)
}

func newTestHub(t *testing.T, tails TailControl) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(tails, nil, slog.Default())
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return frame
}

func waitForCount(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected count %d, got %d", want, get())
}

func TestSubscribeReceivesBatches(t *testing.T) {
	tails := &fakeTail{}
	hub, srv := newTestHub(t, tails)
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "s1"}); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, func() int { return hub.SubscriberCount("s1") }, 1)

	hub.BroadcastBatch(transcript.MessageBatch{
		SessionID: "s1",
		Messages: []transcript.ParsedMessage{
			transcript.UserPrompt{Kind: transcript.KindUserPrompt, LineIndex: 7, UUID: "u1", Text: "hi"},
		},
		ByteRange: transcript.ByteRange{Start: 100, End: 200},
	})

	frame := readFrame(t, conn)
	if frame["type"] != "messages" {
		t.Fatalf("expected messages frame, got %v", frame["type"])
	}
	if frame["sessionId"] != "s1" {
		t.Errorf("expected session s1, got %v", frame["sessionId"])
	}
	byteRange := frame["byteRange"].(map[string]any)
	if byteRange["start"].(float64) != 100 || byteRange["end"].(float64) != 200 {
		t.Errorf("unexpected byte range: %v", byteRange)
	}
	messages := frame["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0].(map[string]any)
	if msg["kind"] != "user-prompt" || msg["lineIndex"].(float64) != 7 {
		t.Errorf("unexpected message payload: %v", msg)
	}
}

func TestBatchesOnlyReachSubscribers(t *testing.T) {
	hub, srv := newTestHub(t, &fakeTail{})
	subscriber := dial(t, srv)
	bystander := dial(t, srv)

	if err := subscriber.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "s1"}); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, func() int { return hub.SubscriberCount("s1") }, 1)

	hub.BroadcastBatch(transcript.MessageBatch{SessionID: "s1"})

	frame := readFrame(t, subscriber)
	if frame["type"] != "messages" {
		t.Errorf("subscriber should get the batch, got %v", frame["type"])
	}

	_ = bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := bystander.ReadMessage(); err == nil {
		t.Error("bystander should not receive session batches")
	}
}

func TestLifecycleBroadcastReachesEveryone(t *testing.T) {
	hub, srv := newTestHub(t, &fakeTail{})
	first := dial(t, srv)
	second := dial(t, srv)
	waitForCount(t, hub.ClientCount, 2)

	hub.SessionStopped("s9", "completed", time.Now())

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		if frame["type"] != "session:stopped" {
			t.Errorf("expected session:stopped, got %v", frame["type"])
		}
		if frame["reason"] != "completed" {
			t.Errorf("expected reason completed, got %v", frame["reason"])
		}
	}
}

func TestBadFrameRepliesErrorAndStaysOpen(t *testing.T) {
	hub, srv := newTestHub(t, &fakeTail{})
	conn := dial(t, srv)
	waitForCount(t, hub.ClientCount, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "bad-frame" {
		t.Fatalf("expected bad-frame error, got %v", frame)
	}

	// Frame with a known shape violation.
	if err := conn.WriteJSON(map[string]any{"type": "subscribe"}); err != nil {
		t.Fatal(err)
	}
	frame = readFrame(t, conn)
	if frame["code"] != "bad-frame" {
		t.Errorf("expected bad-frame for missing sessionId, got %v", frame)
	}

	// The connection must survive both errors.
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "s1"}); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, func() int { return hub.SubscriberCount("s1") }, 1)
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	tails := &fakeTail{}
	hub, srv := newTestHub(t, tails)
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "s1"}); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, func() int { return hub.SubscriberCount("s1") }, 1)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "s2"}); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, func() int { return hub.SubscriberCount("s2") }, 1)
	if hub.SubscriberCount("s1") != 0 {
		t.Error("previous subscription should be dropped")
	}

	subs, releases := tails.counts()
	if subs != 2 || releases != 1 {
		t.Errorf("expected 2 subscribes and 1 release, got %d/%d", subs, releases)
	}
}

func TestDisconnectReleasesTail(t *testing.T) {
	tails := &fakeTail{}
	hub, srv := newTestHub(t, tails)
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "s1"}); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, func() int { return hub.SubscriberCount("s1") }, 1)

	_ = conn.Close()
	waitForCount(t, hub.ClientCount, 0)

	_, releases := tails.counts()
	if releases != 1 {
		t.Errorf("expected tail release on disconnect, got %d", releases)
	}
}

func TestSubscribeFailureSendsError(t *testing.T) {
	tails := &fakeTail{failWith: errSubscribe}
	_, srv := newTestHub(t, tails)
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "sessionId": "missing"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "subscribe-failed" {
		t.Errorf("expected subscribe-failed error, got %v", frame)
	}
}
