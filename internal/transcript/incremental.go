package transcript

// IncrementalContext carries the cross-batch state a live session view
// needs: which message ids have been folded in already and which tool
// names own which tool_use ids. Build it once from the baseline and
// pass it to every ApplyBatch call for the same session.
type IncrementalContext struct {
	SeenMessageIDs  map[string]struct{}
	ToolUseIDToName map[string]string

	// CostPerToken, when positive, replaces per-model pricing with a
	// flat totalTokens rate. Leave zero to keep exact pricing.
	CostPerToken float64
}

// NewIncrementalContext derives the context from an existing session
// view. A nil prev yields an empty context.
func NewIncrementalContext(prev *EnrichedSession) *IncrementalContext {
	ictx := &IncrementalContext{
		SeenMessageIDs:  make(map[string]struct{}),
		ToolUseIDToName: make(map[string]string),
	}
	if prev == nil {
		return ictx
	}
	for i := range prev.Responses {
		r := &prev.Responses[i]
		ictx.SeenMessageIDs[r.MessageID] = struct{}{}
		for _, b := range r.Blocks {
			if b.Type == "tool_use" && b.ID != "" {
				ictx.ToolUseIDToName[b.ID] = b.Name
			}
		}
	}
	return ictx
}

// ApplyBatch folds newly tailed messages into prev and returns the
// updated view. prev is never mutated; an empty batch returns prev
// itself so callers can detect no-op updates by reference. Message ids
// already present keep accumulating blocks and take the latest usage
// without double-counting tokens, because totals and snapshots are
// rebuilt from the response list after every batch.
//
// Folding a stream in batches yields the same result as enriching the
// whole stream at once.
func ApplyBatch(prev *EnrichedSession, batch []ParsedMessage, ictx *IncrementalContext) *EnrichedSession {
	if len(batch) == 0 {
		return prev
	}
	if ictx == nil {
		ictx = NewIncrementalContext(prev)
	}

	next := cloneSession(prev)
	w := newWalker(next, ictx)
	for _, m := range batch {
		w.apply(m)
	}
	finalize(next, ictx.CostPerToken)
	return next
}

// cloneSession copies prev deeply enough that appends and element
// updates on the clone cannot reach prev's backing arrays.
func cloneSession(prev *EnrichedSession) *EnrichedSession {
	if prev == nil {
		return emptySession()
	}
	next := &EnrichedSession{
		Messages:         append([]ParsedMessage{}, prev.Messages...),
		Turns:            append([]Turn{}, prev.Turns...),
		Responses:        make([]ReconstitutedResponse, len(prev.Responses)),
		ToolCalls:        append([]PairedToolCall{}, prev.ToolCalls...),
		Totals:           prev.Totals,
		ToolStats:        make([]ToolStat, len(prev.ToolStats)),
		Subagents:        append([]SubagentRef{}, prev.Subagents...),
		ContextSnapshots: append([]ContextSnapshot{}, prev.ContextSnapshots...),
	}
	for i := range prev.Responses {
		r := prev.Responses[i]
		r.Blocks = append([]ContentBlock{}, r.Blocks...)
		next.Responses[i] = r
	}
	for i := range prev.ToolStats {
		t := prev.ToolStats[i]
		t.ErrorSamples = append([]ToolErrorSample{}, t.ErrorSamples...)
		next.ToolStats[i] = t
	}
	return next
}
