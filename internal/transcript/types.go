// Package transcript parses agent session logs (JSONL) into typed
// messages and derives per-session aggregates from them.
package transcript

import "encoding/json"

// Kind discriminates the ParsedMessage union on the wire.
type Kind string

const (
	KindFileHistorySnapshot Kind = "file-history-snapshot"
	KindUserPrompt          Kind = "user-prompt"
	KindUserToolResult      Kind = "user-tool-result"
	KindAssistantBlock      Kind = "assistant-block"
	KindSystemTurnDuration  Kind = "system-turn-duration"
	KindSystemAPIError      Kind = "system-api-error"
	KindSystemLocalCommand  Kind = "system-local-command"
	KindProgressAgent       Kind = "progress-agent"
	KindProgressBash        Kind = "progress-bash"
	KindProgressHook        Kind = "progress-hook"
	KindQueueOperation      Kind = "queue-operation"
	KindMalformed           Kind = "malformed"
)

// ParsedMessage is one typed record from a session file. Every variant
// records the 0-based line it was parsed from.
type ParsedMessage interface {
	MessageKind() Kind
	Line() int
}

// Usage counts tokens for one assistant response, in the canonical
// camelCase form served to clients.
type Usage struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens"`
}

// Total returns the sum of all four token counters.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// ContentBlock is one element of an assistant message's content array.
// Type is "text", "thinking" or "tool_use"; unrecognized types pass
// through with only Type set.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolResultItem is one tool_result entry from a user record.
type ToolResultItem struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError"`
}

// FileHistorySnapshot marks a point-in-time file state capture. Only the
// nested snapshot timestamp is retained; it serves as an activity
// fallback for sessions that end on a snapshot.
type FileHistorySnapshot struct {
	Kind      Kind   `json:"kind"`
	LineIndex int    `json:"lineIndex"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UserPrompt is the text a user (or a meta record impersonating one)
// submitted. Meta prompts do not open turns.
type UserPrompt struct {
	Kind       Kind    `json:"kind"`
	LineIndex  int     `json:"lineIndex"`
	UUID       string  `json:"uuid"`
	ParentUUID *string `json:"parentUuid"`
	Timestamp  string  `json:"timestamp,omitempty"`
	IsMeta     bool    `json:"isMeta"`
	Text       string  `json:"text"`
	CWD        string  `json:"cwd,omitempty"`
	GitBranch  string  `json:"gitBranch,omitempty"`
}

// UserToolResult carries the tool_result items of a user record. A user
// record holding both text and tool results yields a UserPrompt and a
// UserToolResult sharing the same UUID.
type UserToolResult struct {
	Kind      Kind             `json:"kind"`
	LineIndex int              `json:"lineIndex"`
	UUID      string           `json:"uuid"`
	Timestamp string           `json:"timestamp,omitempty"`
	Results   []ToolResultItem `json:"results"`
}

// AssistantBlock is a single content block of an assistant response.
// All blocks of one response share MessageID, Model, Usage and
// TurnIndex; Usage is the value seen on this block's line, and later
// lines supersede earlier ones per message id. TurnIndex is assigned
// during enrichment.
type AssistantBlock struct {
	Kind        Kind         `json:"kind"`
	LineIndex   int          `json:"lineIndex"`
	UUID        string       `json:"uuid"`
	ParentUUID  *string      `json:"parentUuid"`
	MessageID   string       `json:"messageId"`
	Model       string       `json:"model"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Usage       Usage        `json:"usage"`
	Block       ContentBlock `json:"block"`
	IsSynthetic bool         `json:"isSynthetic,omitempty"`
	TurnIndex   int          `json:"turnIndex"`
}

// SystemTurnDuration reports how long the preceding turn took.
type SystemTurnDuration struct {
	Kind       Kind   `json:"kind"`
	LineIndex  int    `json:"lineIndex"`
	Timestamp  string `json:"timestamp,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// SystemAPIError records an upstream API failure logged by the agent.
type SystemAPIError struct {
	Kind      Kind   `json:"kind"`
	LineIndex int    `json:"lineIndex"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message"`
}

// SystemLocalCommand records a local command the agent ran outside the
// tool-use protocol.
type SystemLocalCommand struct {
	Kind      Kind   `json:"kind"`
	LineIndex int    `json:"lineIndex"`
	Timestamp string `json:"timestamp,omitempty"`
	Command   string `json:"command,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ProgressAgent announces a subagent working under a parent tool use.
type ProgressAgent struct {
	Kind            Kind   `json:"kind"`
	LineIndex       int    `json:"lineIndex"`
	Timestamp       string `json:"timestamp,omitempty"`
	AgentID         string `json:"agentId"`
	ParentToolUseID string `json:"parentToolUseId"`
	Prompt          string `json:"prompt"`
}

// ProgressBash carries incremental shell output. The payload is passed
// through opaquely.
type ProgressBash struct {
	Kind      Kind            `json:"kind"`
	LineIndex int             `json:"lineIndex"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ProgressHook carries hook execution progress. The payload is passed
// through opaquely.
type ProgressHook struct {
	Kind      Kind            `json:"kind"`
	LineIndex int             `json:"lineIndex"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// QueueOperation is an opaque control record for the agent's internal
// work queue.
type QueueOperation struct {
	Kind      Kind   `json:"kind"`
	LineIndex int    `json:"lineIndex"`
	Timestamp string `json:"timestamp,omitempty"`
	Operation string `json:"operation"`
	Content   string `json:"content,omitempty"`
}

// Malformed wraps a line that was not valid JSON or violated the schema
// of its declared type. The raw line is preserved for display.
type Malformed struct {
	Kind      Kind   `json:"kind"`
	LineIndex int    `json:"lineIndex"`
	Raw       string `json:"raw"`
	Error     string `json:"error"`
}

func (m FileHistorySnapshot) MessageKind() Kind { return KindFileHistorySnapshot }
func (m UserPrompt) MessageKind() Kind          { return KindUserPrompt }
func (m UserToolResult) MessageKind() Kind      { return KindUserToolResult }
func (m AssistantBlock) MessageKind() Kind      { return KindAssistantBlock }
func (m SystemTurnDuration) MessageKind() Kind  { return KindSystemTurnDuration }
func (m SystemAPIError) MessageKind() Kind      { return KindSystemAPIError }
func (m SystemLocalCommand) MessageKind() Kind  { return KindSystemLocalCommand }
func (m ProgressAgent) MessageKind() Kind       { return KindProgressAgent }
func (m ProgressBash) MessageKind() Kind        { return KindProgressBash }
func (m ProgressHook) MessageKind() Kind        { return KindProgressHook }
func (m QueueOperation) MessageKind() Kind      { return KindQueueOperation }
func (m Malformed) MessageKind() Kind           { return KindMalformed }

func (m FileHistorySnapshot) Line() int { return m.LineIndex }
func (m UserPrompt) Line() int          { return m.LineIndex }
func (m UserToolResult) Line() int      { return m.LineIndex }
func (m AssistantBlock) Line() int      { return m.LineIndex }
func (m SystemTurnDuration) Line() int  { return m.LineIndex }
func (m SystemAPIError) Line() int      { return m.LineIndex }
func (m SystemLocalCommand) Line() int  { return m.LineIndex }
func (m ProgressAgent) Line() int       { return m.LineIndex }
func (m ProgressBash) Line() int        { return m.LineIndex }
func (m ProgressHook) Line() int        { return m.LineIndex }
func (m QueueOperation) Line() int      { return m.LineIndex }
func (m Malformed) Line() int           { return m.LineIndex }

// TimestampOf returns the raw record timestamp carried by m. Malformed
// records carry none.
func TimestampOf(m ParsedMessage) string {
	switch v := m.(type) {
	case FileHistorySnapshot:
		return v.Timestamp
	case UserPrompt:
		return v.Timestamp
	case UserToolResult:
		return v.Timestamp
	case AssistantBlock:
		return v.Timestamp
	case SystemTurnDuration:
		return v.Timestamp
	case SystemAPIError:
		return v.Timestamp
	case SystemLocalCommand:
		return v.Timestamp
	case ProgressAgent:
		return v.Timestamp
	case ProgressBash:
		return v.Timestamp
	case ProgressHook:
		return v.Timestamp
	case QueueOperation:
		return v.Timestamp
	default:
		return ""
	}
}

// Turn is one user prompt and everything the agent did in reply. Turns
// are 1-indexed; meta prompts do not open turns.
type Turn struct {
	TurnIndex     int    `json:"turnIndex"`
	PromptText    string `json:"promptText"`
	PromptUUID    string `json:"promptUuid"`
	DurationMs    *int64 `json:"durationMs"`
	ResponseCount int    `json:"responseCount"`
	ToolUseCount  int    `json:"toolUseCount"`
}

// ReconstitutedResponse groups the assistant blocks sharing one message
// id back into a single logical response. Usage holds the last-seen
// value for the id.
type ReconstitutedResponse struct {
	MessageID      string         `json:"messageId"`
	Model          string         `json:"model"`
	TurnIndex      int            `json:"turnIndex"`
	LineIndexStart int            `json:"lineIndexStart"`
	LineIndexEnd   int            `json:"lineIndexEnd"`
	Timestamp      string         `json:"timestamp,omitempty"`
	IsSynthetic    bool           `json:"isSynthetic,omitempty"`
	Usage          Usage          `json:"usage"`
	Blocks         []ContentBlock `json:"blocks"`
}

// PairedToolCall joins a tool_use block with the earliest tool_result
// that answered it. ResultBlock is nil while the call is unanswered.
type PairedToolCall struct {
	ToolUseID   string          `json:"toolUseId"`
	ToolName    string          `json:"toolName"`
	MessageID   string          `json:"messageId"`
	TurnIndex   int             `json:"turnIndex"`
	UseBlock    ContentBlock    `json:"toolUseBlock"`
	ResultBlock *ToolResultItem `json:"toolResultBlock"`
}

// TokenTotals aggregates usage across every response in a session.
type TokenTotals struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	TotalTokens              int     `json:"totalTokens"`
	ToolUseCount             int     `json:"toolUseCount"`
	EstimatedCostUsd         float64 `json:"estimatedCostUsd"`
}

// ToolErrorSample preserves one failed tool invocation for display.
type ToolErrorSample struct {
	ToolUseID string `json:"toolUseId"`
	Text      string `json:"text"`
	TurnIndex int    `json:"turnIndex"`
}

// ToolStat counts invocations and failures of one tool name.
type ToolStat struct {
	Name         string            `json:"name"`
	CallCount    int               `json:"callCount"`
	ErrorCount   int               `json:"errorCount"`
	ErrorSamples []ToolErrorSample `json:"errorSamples"`
}

// SubagentRef records a subagent spawned during the session. Stats stay
// nil until subagent transcripts are aggregated.
type SubagentRef struct {
	Prompt          string       `json:"prompt"`
	AgentID         string       `json:"agentId"`
	ParentToolUseID string       `json:"parentToolUseId"`
	Stats           *TokenTotals `json:"stats"`
}

// ContextSnapshot is the cumulative token footprint after one response.
// Input accumulates input plus cache reads; output accumulates output
// tokens. Both are non-decreasing across a session.
type ContextSnapshot struct {
	MessageID              string `json:"messageId"`
	TurnIndex              int    `json:"turnIndex"`
	Timestamp              string `json:"timestamp,omitempty"`
	CumulativeInputTokens  int    `json:"cumulativeInputTokens"`
	CumulativeOutputTokens int    `json:"cumulativeOutputTokens"`
}

// EnrichedSession is the full derived view of one session file.
type EnrichedSession struct {
	Messages         []ParsedMessage         `json:"messages"`
	Turns            []Turn                  `json:"turns"`
	Responses        []ReconstitutedResponse `json:"responses"`
	ToolCalls        []PairedToolCall        `json:"toolCalls"`
	Totals           TokenTotals             `json:"totals"`
	ToolStats        []ToolStat              `json:"toolStats"`
	Subagents        []SubagentRef           `json:"subagents"`
	ContextSnapshots []ContextSnapshot       `json:"contextSnapshots"`
}

// ByteRange is the half-open span of file bytes a batch was read from.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// MessageBatch is one tailer emission: the messages parsed from newly
// appended bytes of a session file.
type MessageBatch struct {
	SessionID string          `json:"sessionId"`
	Messages  []ParsedMessage `json:"messages"`
	ByteRange ByteRange       `json:"byteRange"`
}
