package agent

// Result statuses produced locally. Upstream statuses other than
// StatusCompleted (e.g. "failed", "incomplete") pass through verbatim.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// ToolUsageSummary is one piece of evidence that the agent consulted a
// data tool while producing its answer.
type ToolUsageSummary struct {
	ItemID string `json:"itemId"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of one agent invocation. It is always well-formed:
// transport and upstream failures are folded into Status and Error rather
// than surfaced as Go errors, so orchestrators only branch on Status.
type Result struct {
	Status          string
	ConversationID  string
	ResponseID      string
	AssistantAnswer string
	ToolEvidence    []ToolUsageSummary
	Error           string
}

// Completed reports whether the invocation produced a final answer.
func (r *Result) Completed() bool {
	return r.Status == StatusCompleted
}
