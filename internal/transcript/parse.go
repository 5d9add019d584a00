package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	initialScanBufSize = 64 * 1024
	maxLineSize        = 64 * 1024 * 1024
)

// syntheticModel marks assistant records replayed by the agent rather
// than returned by the API.
const syntheticModel = "<synthetic>"

// rawRecord is the envelope every session line decodes into before
// dispatch on Type/Subtype. Fields belonging to other variants stay at
// their zero values.
type rawRecord struct {
	Type            string          `json:"type"`
	Subtype         string          `json:"subtype"`
	UUID            string          `json:"uuid"`
	ParentUUID      *string         `json:"parentUuid"`
	SessionID       string          `json:"sessionId"`
	Timestamp       string          `json:"timestamp"`
	IsMeta          bool            `json:"isMeta"`
	CWD             string          `json:"cwd"`
	GitBranch       string          `json:"gitBranch"`
	Message         json.RawMessage `json:"message"`
	Snapshot        *rawSnapshot    `json:"snapshot"`
	DurationMs      *int64          `json:"durationMs"`
	Command         string          `json:"command"`
	Content         string          `json:"content"`
	Operation       string          `json:"operation"`
	AgentID         string          `json:"agentId"`
	ParentToolUseID string          `json:"parentToolUseId"`
	Prompt          string          `json:"prompt"`
	Data            json.RawMessage `json:"data"`
}

type rawSnapshot struct {
	Timestamp string `json:"timestamp"`
}

type rawUserMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawUserItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type rawAssistantMessage struct {
	ID      string            `json:"id"`
	Model   string            `json:"model"`
	Content []rawContentBlock `json:"content"`
	Usage   *rawUsage         `json:"usage"`
}

type rawContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (u *rawUsage) canonical() Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

// ParseLine decodes one session-file line into zero or more parsed
// messages. Whitespace-only lines yield nil. Lines that are not JSON,
// or that violate the schema of their declared type, yield a single
// malformed message; ParseLine never fails.
//
// A user line can yield two messages (prompt first, then tool results)
// and an assistant line yields one message per content block.
func ParseLine(raw string, lineIndex int) []ParsedMessage {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var rec rawRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return malformedLine(raw, lineIndex, fmt.Sprintf("invalid JSON: %v", err))
	}

	switch rec.Type {
	case "user":
		return parseUser(raw, lineIndex, &rec)
	case "assistant":
		return parseAssistant(raw, lineIndex, &rec)
	case "system":
		return parseSystem(raw, lineIndex, &rec)
	case "file-history-snapshot":
		if rec.Snapshot == nil {
			return malformedLine(raw, lineIndex, "file-history-snapshot record missing snapshot")
		}
		return []ParsedMessage{FileHistorySnapshot{
			Kind:      KindFileHistorySnapshot,
			LineIndex: lineIndex,
			Timestamp: rec.Snapshot.Timestamp,
		}}
	case "progress":
		return parseProgress(raw, lineIndex, &rec)
	case "queue-operation":
		return []ParsedMessage{QueueOperation{
			Kind:      KindQueueOperation,
			LineIndex: lineIndex,
			Timestamp: rec.Timestamp,
			Operation: rec.Operation,
			Content:   rec.Content,
		}}
	case "":
		return malformedLine(raw, lineIndex, "record missing type")
	default:
		return malformedLine(raw, lineIndex, fmt.Sprintf("unknown record type %q", rec.Type))
	}
}

func parseUser(raw string, lineIndex int, rec *rawRecord) []ParsedMessage {
	if rec.UUID == "" {
		return malformedLine(raw, lineIndex, "user record missing uuid")
	}
	if len(rec.Message) == 0 {
		return malformedLine(raw, lineIndex, "user record missing message")
	}

	var msg rawUserMessage
	if err := json.Unmarshal(rec.Message, &msg); err != nil {
		return malformedLine(raw, lineIndex, fmt.Sprintf("user message: %v", err))
	}

	prompt := UserPrompt{
		Kind:       KindUserPrompt,
		LineIndex:  lineIndex,
		UUID:       rec.UUID,
		ParentUUID: rec.ParentUUID,
		Timestamp:  rec.Timestamp,
		IsMeta:     rec.IsMeta,
		CWD:        rec.CWD,
		GitBranch:  rec.GitBranch,
	}

	// String content is the plain prompt form.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		prompt.Text = text
		return []ParsedMessage{prompt}
	}

	var items []rawUserItem
	if err := json.Unmarshal(msg.Content, &items); err != nil {
		return malformedLine(raw, lineIndex, "user message content must be a string or an array")
	}

	var texts []string
	var results []ToolResultItem
	for _, item := range items {
		switch item.Type {
		case "text":
			texts = append(texts, item.Text)
		case "tool_result":
			results = append(results, ToolResultItem{
				ToolUseID: item.ToolUseID,
				Content:   extractResultText(item.Content),
				IsError:   item.IsError,
			})
		}
	}

	var out []ParsedMessage
	if len(texts) > 0 || len(results) == 0 {
		prompt.Text = strings.Join(texts, "\n")
		out = append(out, prompt)
	}
	if len(results) > 0 {
		out = append(out, UserToolResult{
			Kind:      KindUserToolResult,
			LineIndex: lineIndex,
			UUID:      rec.UUID,
			Timestamp: rec.Timestamp,
			Results:   results,
		})
	}
	return out
}

func parseAssistant(raw string, lineIndex int, rec *rawRecord) []ParsedMessage {
	if len(rec.Message) == 0 {
		return malformedLine(raw, lineIndex, "assistant record missing message")
	}

	var msg rawAssistantMessage
	if err := json.Unmarshal(rec.Message, &msg); err != nil {
		return malformedLine(raw, lineIndex, fmt.Sprintf("assistant message: %v", err))
	}
	if msg.ID == "" {
		return malformedLine(raw, lineIndex, "assistant message missing id")
	}

	usage := msg.Usage.canonical()
	out := make([]ParsedMessage, 0, len(msg.Content))
	for _, b := range msg.Content {
		out = append(out, AssistantBlock{
			Kind:       KindAssistantBlock,
			LineIndex:  lineIndex,
			UUID:       rec.UUID,
			ParentUUID: rec.ParentUUID,
			MessageID:  msg.ID,
			Model:      msg.Model,
			Timestamp:  rec.Timestamp,
			Usage:      usage,
			Block: ContentBlock{
				Type:     b.Type,
				Text:     b.Text,
				Thinking: b.Thinking,
				ID:       b.ID,
				Name:     b.Name,
				Input:    b.Input,
			},
			IsSynthetic: msg.Model == syntheticModel,
		})
	}
	return out
}

func parseSystem(raw string, lineIndex int, rec *rawRecord) []ParsedMessage {
	switch rec.Subtype {
	case "turn_duration":
		if rec.DurationMs == nil {
			return malformedLine(raw, lineIndex, "turn_duration record missing durationMs")
		}
		return []ParsedMessage{SystemTurnDuration{
			Kind:       KindSystemTurnDuration,
			LineIndex:  lineIndex,
			Timestamp:  rec.Timestamp,
			DurationMs: *rec.DurationMs,
		}}
	case "api_error":
		msg := rec.Content
		var s string
		if err := json.Unmarshal(rec.Message, &s); err == nil && s != "" {
			msg = s
		}
		return []ParsedMessage{SystemAPIError{
			Kind:      KindSystemAPIError,
			LineIndex: lineIndex,
			Timestamp: rec.Timestamp,
			Message:   msg,
		}}
	case "local_command":
		return []ParsedMessage{SystemLocalCommand{
			Kind:      KindSystemLocalCommand,
			LineIndex: lineIndex,
			Timestamp: rec.Timestamp,
			Command:   rec.Command,
			Content:   rec.Content,
		}}
	default:
		return malformedLine(raw, lineIndex, fmt.Sprintf("unknown system subtype %q", rec.Subtype))
	}
}

func parseProgress(raw string, lineIndex int, rec *rawRecord) []ParsedMessage {
	switch rec.Subtype {
	case "agent":
		return []ParsedMessage{ProgressAgent{
			Kind:            KindProgressAgent,
			LineIndex:       lineIndex,
			Timestamp:       rec.Timestamp,
			AgentID:         rec.AgentID,
			ParentToolUseID: rec.ParentToolUseID,
			Prompt:          rec.Prompt,
		}}
	case "bash":
		return []ParsedMessage{ProgressBash{
			Kind:      KindProgressBash,
			LineIndex: lineIndex,
			Timestamp: rec.Timestamp,
			Data:      rec.Data,
		}}
	case "hook":
		return []ParsedMessage{ProgressHook{
			Kind:      KindProgressHook,
			LineIndex: lineIndex,
			Timestamp: rec.Timestamp,
			Data:      rec.Data,
		}}
	default:
		return malformedLine(raw, lineIndex, fmt.Sprintf("unknown progress subtype %q", rec.Subtype))
	}
}

func malformedLine(raw string, lineIndex int, msg string) []ParsedMessage {
	return []ParsedMessage{Malformed{
		Kind:      KindMalformed,
		LineIndex: lineIndex,
		Raw:       raw,
		Error:     msg,
	}}
}

// extractResultText flattens a tool_result content value. The field is
// a plain string in older logs and an array of text items in newer
// ones; anything else passes through as raw JSON.
func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []rawUserItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

// ParseAll reads newline-delimited records from r and parses every
// line. Line indexes count physical lines, so blank lines consume an
// index without producing a message.
func ParseAll(r io.Reader) ([]ParsedMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialScanBufSize), maxLineSize)

	var out []ParsedMessage
	lineIndex := 0
	for scanner.Scan() {
		out = append(out, ParseLine(scanner.Text(), lineIndex)...)
		lineIndex++
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan transcript: %w", err)
	}
	return out, nil
}

// ParseFile parses a whole session file from disk.
func ParseFile(path string) ([]ParsedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return ParseAll(f)
}

// ParseTimestamp parses the RFC 3339 timestamps session files carry.
// Returns false for empty or unparseable values.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
