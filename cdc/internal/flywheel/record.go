// Package flywheel writes every routing and first-touch decision to a
// per-workload JSONL log in a chat-completion shaped record, and reads or
// bulk-loads those logs for offline analysis.
package flywheel

import "strings"

// Workload identifiers.
const (
	WorkloadLeadRoute  = "lead.route"
	WorkloadFirstTouch = "first_touch.detect"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the decision input.
type Request struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Choice is one decision output.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage mirrors token accounting; policy decisions leave it zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the decision output.
type Response struct {
	ID       string         `json:"id,omitempty"`
	Object   string         `json:"object,omitempty"`
	Created  int64          `json:"created,omitempty"`
	Model    string         `json:"model,omitempty"`
	Choices  []Choice       `json:"choices"`
	Usage    Usage          `json:"usage"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Record is one line of a workload log.
type Record struct {
	ID         string   `json:"id"`
	Timestamp  int64    `json:"timestamp"`
	ClientID   string   `json:"client_id"`
	WorkloadID string   `json:"workload_id"`
	Request    Request  `json:"request"`
	Response   Response `json:"response"`

	LeadID        string  `json:"lead_id,omitempty"`
	UserID        string  `json:"user_id,omitempty"`
	PolicyVersion string  `json:"policy_version,omitempty"`
	ReplayID      string  `json:"replay_id,omitempty"`
	LatencyMS     float64 `json:"latency_ms"`
	Outcome       string  `json:"outcome"`
}

// FileName returns the log file name for workload: "/" and " " become "_".
func FileName(workload string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(workload) + ".jsonl"
}
