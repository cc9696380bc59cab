// Package types defines the wire and domain types for the tributary stream consumer.
//
//nolint:revive // types is a common Go package naming convention
package types

import "encoding/json"

// EventType is the discriminant carried in the "type" field of every stream record.
type EventType string

// Event type constants for the orchestration event stream.
const (
	EventTypePlannerUpdate  EventType = "planner.update"
	EventTypeNodeStatus     EventType = "node.status"
	EventTypeLLMTokens      EventType = "llm.tokens"
	EventTypeDebugLog       EventType = "debug_log"
	EventTypeFinalAnswer    EventType = "final_answer"
	EventTypeGraphCompleted EventType = "graph_completed"
)

// IsTerminal returns true if this event type carries a set-once terminal value.
func (e EventType) IsTerminal() bool {
	return e == EventTypeFinalAnswer || e == EventTypeGraphCompleted
}

// IsKnown returns true if the event type is one of the six stream variants.
func (e EventType) IsKnown() bool {
	switch e {
	case EventTypePlannerUpdate, EventTypeNodeStatus, EventTypeLLMTokens,
		EventTypeDebugLog, EventTypeFinalAnswer, EventTypeGraphCompleted:
		return true
	default:
		return false
	}
}

// NodeStatusValue is the status reported by a node.status event.
type NodeStatusValue string

// Node status constants.
const (
	NodeStatusRunning NodeStatusValue = "RUNNING"
	NodeStatusSuccess NodeStatusValue = "SUCCESS"
	NodeStatusFailed  NodeStatusValue = "FAILED"
)

// GraphStatus is the run-level status reported by graph_completed.
type GraphStatus string

// Graph status constants.
const (
	GraphStatusCompleted GraphStatus = "COMPLETED"
	GraphStatusFailed    GraphStatus = "FAILED"
	GraphStatusTimeout   GraphStatus = "TIMEOUT"
)

// Event is one classified stream record.
// The set of implementations is closed: PlannerUpdate, NodeStatus, LLMTokens,
// DebugLog, FinalAnswer, GraphCompleted and Unknown.
// Events are immutable once decoded.
type Event interface {
	// Header returns the common envelope fields.
	Header() *Envelope
	sealed()
}

// Envelope is the set of fields present on every stream record.
type Envelope struct {
	// Type is the event type discriminator.
	Type EventType `json:"type"`
	// RequestID identifies the logical run.
	RequestID string `json:"request_id"`
	// ExecutionID identifies the backend execution instance.
	ExecutionID string `json:"execution_id"`
	// Source is the exact line the event was decoded from.
	Source json.RawMessage `json:"-"`
}

// Header implements Event.
func (e *Envelope) Header() *Envelope { return e }

func (e *Envelope) sealed() {}

// PlannerUpdate reports a change in the orchestrator's planning status.
type PlannerUpdate struct {
	Envelope
	BusinessAgentKey  string          `json:"business_agent_key"`
	BusinessAgentName *string         `json:"business_agent_name,omitempty"`
	ProcessAgentKey   *string         `json:"process_agent_key,omitempty"`
	ProcessAgentName  *string         `json:"process_agent_name,omitempty"`
	Stage             *string         `json:"stage,omitempty"`
	Summary           *string         `json:"summary,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// NodeStatus reports a graph node, usually a skill invocation, changing status.
type NodeStatus struct {
	Envelope
	NodeID     string          `json:"node_id"`
	NodeType   *string         `json:"node_type,omitempty"`
	Status     NodeStatusValue `json:"status"`
	SkillID    *string         `json:"skill_id,omitempty"`
	SkillName  *string         `json:"skill_name,omitempty"`
	DurationMS *float64        `json:"duration_ms,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// LLMTokens is the token accounting for one model call.
type LLMTokens struct {
	Envelope
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Model            string `json:"model"`
}

// DebugLog is diagnostic text from the backend. It is not authoritative.
type DebugLog struct {
	Envelope
	Message string `json:"message"`
	Level   string `json:"level"`
}

// FinalAnswer is the terminal natural-language answer of a run.
type FinalAnswer struct {
	Envelope
	Message    string            `json:"message"`
	Confidence *float64          `json:"confidence,omitempty"`
	Citations  []json.RawMessage `json:"citations,omitempty"`
}

// GraphCompleted is the run-level summary sent when the graph finishes.
type GraphCompleted struct {
	Envelope
	Status          GraphStatus `json:"status"`
	TotalDurationMS float64     `json:"total_duration_ms"`
	TokensUsedTotal int64       `json:"tokens_used_total"`
	SkillCallCount  int64       `json:"skill_call_count"`
	LLMCallCount    int64       `json:"llm_call_count"`
}

// Unknown is a record whose type is not one of the known variants.
// It is kept for auditability and has no effect beyond the event log.
type Unknown struct {
	Envelope
}

// MarshalJSON emits the record exactly as received.
func (u *Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Source) > 0 {
		return u.Source, nil
	}
	return json.Marshal(u.Envelope)
}
