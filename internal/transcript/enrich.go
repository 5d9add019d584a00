package transcript

import (
	"unicode/utf8"

	"github.com/haasonsaas/fleet/internal/pricing"
)

// errorSampleLimit caps how much of a failed tool result is retained on
// a ToolStat. Full outputs stay available through the paired tool call.
const errorSampleLimit = 200

// EnrichSession derives the full session view from parsed messages in a
// single forward pass. It is pure: the input slice and its elements are
// never mutated.
func EnrichSession(messages []ParsedMessage) *EnrichedSession {
	s := emptySession()
	w := newWalker(s, NewIncrementalContext(nil))
	for _, m := range messages {
		w.apply(m)
	}
	finalize(s, 0)
	return s
}

func emptySession() *EnrichedSession {
	return &EnrichedSession{
		Messages:         []ParsedMessage{},
		Turns:            []Turn{},
		Responses:        []ReconstitutedResponse{},
		ToolCalls:        []PairedToolCall{},
		ToolStats:        []ToolStat{},
		Subagents:        []SubagentRef{},
		ContextSnapshots: []ContextSnapshot{},
	}
}

// walker advances enrichment state one message at a time. The same
// transitions drive both full enrichment and incremental batches, which
// is what keeps the two paths equal on identical input.
type walker struct {
	s    *EnrichedSession
	ictx *IncrementalContext

	respIdx map[string]int // messageId -> index into s.Responses
	statIdx map[string]int // tool name -> index into s.ToolStats
	callIdx map[string]int // tool_use id -> index into s.ToolCalls
}

func newWalker(s *EnrichedSession, ictx *IncrementalContext) *walker {
	w := &walker{
		s:       s,
		ictx:    ictx,
		respIdx: make(map[string]int, len(s.Responses)),
		statIdx: make(map[string]int, len(s.ToolStats)),
		callIdx: make(map[string]int, len(s.ToolCalls)),
	}
	for i := range s.Responses {
		w.respIdx[s.Responses[i].MessageID] = i
	}
	for i := range s.ToolStats {
		w.statIdx[s.ToolStats[i].Name] = i
	}
	for i := range s.ToolCalls {
		if _, ok := w.callIdx[s.ToolCalls[i].ToolUseID]; !ok {
			w.callIdx[s.ToolCalls[i].ToolUseID] = i
		}
	}
	return w
}

func (w *walker) apply(msg ParsedMessage) {
	switch m := msg.(type) {
	case UserPrompt:
		if !m.IsMeta {
			w.s.Turns = append(w.s.Turns, Turn{
				TurnIndex:  len(w.s.Turns) + 1,
				PromptText: m.Text,
				PromptUUID: m.UUID,
			})
		}
	case AssistantBlock:
		msg = w.applyAssistantBlock(m)
	case UserToolResult:
		w.applyToolResults(m)
	case SystemTurnDuration:
		if n := len(w.s.Turns); n > 0 {
			d := m.DurationMs
			w.s.Turns[n-1].DurationMs = &d
		}
	case ProgressAgent:
		w.s.Subagents = append(w.s.Subagents, SubagentRef{
			Prompt:          m.Prompt,
			AgentID:         m.AgentID,
			ParentToolUseID: m.ParentToolUseID,
		})
	}
	w.s.Messages = append(w.s.Messages, msg)
}

// applyAssistantBlock folds one block into its response. The returned
// copy carries the turn index the response was created under.
func (w *walker) applyAssistantBlock(m AssistantBlock) AssistantBlock {
	s := w.s
	i, ok := w.respIdx[m.MessageID]
	if !ok {
		turn := len(s.Turns)
		s.Responses = append(s.Responses, ReconstitutedResponse{
			MessageID:      m.MessageID,
			Model:          m.Model,
			TurnIndex:      turn,
			LineIndexStart: m.LineIndex,
			LineIndexEnd:   m.LineIndex,
			Timestamp:      m.Timestamp,
			IsSynthetic:    m.IsSynthetic,
			Blocks:         []ContentBlock{},
		})
		i = len(s.Responses) - 1
		w.respIdx[m.MessageID] = i
		w.ictx.SeenMessageIDs[m.MessageID] = struct{}{}
		if turn > 0 {
			s.Turns[turn-1].ResponseCount++
		}
	}

	r := &s.Responses[i]
	r.Usage = m.Usage // the last line seen for a message id wins
	if m.LineIndex > r.LineIndexEnd {
		r.LineIndexEnd = m.LineIndex
	}
	r.Blocks = append(r.Blocks, m.Block)

	if m.Block.Type == "tool_use" {
		if n := len(s.Turns); n > 0 {
			s.Turns[n-1].ToolUseCount++
		}
		j, ok := w.statIdx[m.Block.Name]
		if !ok {
			s.ToolStats = append(s.ToolStats, ToolStat{
				Name:         m.Block.Name,
				ErrorSamples: []ToolErrorSample{},
			})
			j = len(s.ToolStats) - 1
			w.statIdx[m.Block.Name] = j
		}
		s.ToolStats[j].CallCount++

		if m.Block.ID != "" {
			w.ictx.ToolUseIDToName[m.Block.ID] = m.Block.Name
			if _, dup := w.callIdx[m.Block.ID]; !dup {
				s.ToolCalls = append(s.ToolCalls, PairedToolCall{
					ToolUseID: m.Block.ID,
					ToolName:  m.Block.Name,
					MessageID: m.MessageID,
					TurnIndex: r.TurnIndex,
					UseBlock:  m.Block,
				})
				w.callIdx[m.Block.ID] = len(s.ToolCalls) - 1
			}
		}
	}

	m.TurnIndex = r.TurnIndex
	return m
}

func (w *walker) applyToolResults(m UserToolResult) {
	s := w.s
	for _, res := range m.Results {
		if name, known := w.ictx.ToolUseIDToName[res.ToolUseID]; known && res.IsError {
			if j, ok := w.statIdx[name]; ok {
				st := &s.ToolStats[j]
				st.ErrorCount++
				st.ErrorSamples = append(st.ErrorSamples, ToolErrorSample{
					ToolUseID: res.ToolUseID,
					Text:      Truncate(res.Content, errorSampleLimit),
					TurnIndex: len(s.Turns),
				})
			}
		}
		// A call is answered by the earliest result carrying its id.
		if k, ok := w.callIdx[res.ToolUseID]; ok && s.ToolCalls[k].ResultBlock == nil {
			r := res
			s.ToolCalls[k].ResultBlock = &r
		}
	}
}

// finalize recomputes the aggregate views that depend only on the
// response list. Rebuilding them from scratch keeps incremental batches
// exactly in step with a full enrichment.
func finalize(s *EnrichedSession, costPerToken float64) {
	s.Totals = computeTotals(s.Responses, costPerToken)
	s.ContextSnapshots = buildContextSnapshots(s.Responses)
}

func computeTotals(responses []ReconstitutedResponse, costPerToken float64) TokenTotals {
	var t TokenTotals
	for i := range responses {
		r := &responses[i]
		t.InputTokens += r.Usage.InputTokens
		t.OutputTokens += r.Usage.OutputTokens
		t.CacheCreationInputTokens += r.Usage.CacheCreationInputTokens
		t.CacheReadInputTokens += r.Usage.CacheReadInputTokens
		for _, b := range r.Blocks {
			if b.Type == "tool_use" {
				t.ToolUseCount++
			}
		}
		if costPerToken <= 0 {
			t.EstimatedCostUsd += pricing.CostFor(r.Model, pricingUsage(r.Usage))
		}
	}
	t.TotalTokens = t.InputTokens + t.OutputTokens + t.CacheCreationInputTokens + t.CacheReadInputTokens
	if costPerToken > 0 {
		t.EstimatedCostUsd = float64(t.TotalTokens) * costPerToken
	}
	return t
}

func buildContextSnapshots(responses []ReconstitutedResponse) []ContextSnapshot {
	snaps := make([]ContextSnapshot, 0, len(responses))
	var cumIn, cumOut int
	for i := range responses {
		r := &responses[i]
		cumIn += r.Usage.InputTokens + r.Usage.CacheReadInputTokens
		cumOut += r.Usage.OutputTokens
		snaps = append(snaps, ContextSnapshot{
			MessageID:              r.MessageID,
			TurnIndex:              r.TurnIndex,
			Timestamp:              r.Timestamp,
			CumulativeInputTokens:  cumIn,
			CumulativeOutputTokens: cumOut,
		})
	}
	return snaps
}

func pricingUsage(u Usage) pricing.Usage {
	return pricing.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

// Truncate caps s at limit runes.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
