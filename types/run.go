package types

import (
	"errors"
	"strings"
)

// RunPhase is the derived lifecycle phase of a run.
// The authoritative failure signal is still the run error; the phase is a
// convenience for renderers and notifications.
type RunPhase string

// Run phase constants.
const (
	// RunPhaseIdle means no run has been started.
	RunPhaseIdle RunPhase = "idle"
	// RunPhaseStreaming means the connection is open and events are being folded.
	RunPhaseStreaming RunPhase = "streaming"
	// RunPhaseFinished means the stream ended cleanly.
	RunPhaseFinished RunPhase = "finished"
	// RunPhaseFailed means the run ended with a transport or read error.
	RunPhaseFailed RunPhase = "failed"
	// RunPhaseAborted means the run was aborted or superseded.
	RunPhaseAborted RunPhase = "aborted"
)

// IsTerminal returns true once the run can no longer change.
func (p RunPhase) IsTerminal() bool {
	return p == RunPhaseFinished || p == RunPhaseFailed || p == RunPhaseAborted
}

// RunParams are the per-run parameters supplied by the caller.
type RunParams struct {
	// TenantID is the tenant the run executes under.
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	// UserID is the user on whose behalf the run executes.
	UserID string `json:"user_id" yaml:"user_id"`
	// BusinessAgentKey selects the business agent that handles the message.
	BusinessAgentKey string `json:"business_agent_key" yaml:"business_agent_key"`
	// Message is the user message.
	Message string `json:"message" yaml:"message"`
	// Subject is an optional subject reference (customer, account, ...).
	Subject *string `json:"subject,omitempty" yaml:"subject,omitempty"`
	// WorkspaceID is an optional workspace scope.
	WorkspaceID *string `json:"workspace_id,omitempty" yaml:"workspace_id,omitempty"`
}

// Validate checks that all required parameters are present.
func (p RunParams) Validate() error {
	var missing []string
	if p.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if p.UserID == "" {
		missing = append(missing, "user_id")
	}
	if p.BusinessAgentKey == "" {
		missing = append(missing, "business_agent_key")
	}
	if p.Message == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return errors.New("missing run parameters: " + strings.Join(missing, ", "))
	}
	return nil
}

// StreamRequest is the JSON body sent to the stream-events endpoint.
type StreamRequest struct {
	RequestID        string  `json:"request_id"`
	BusinessAgentKey string  `json:"business_agent_key"`
	UserID           string  `json:"user_id"`
	TenantID         string  `json:"tenant_id"`
	WorkspaceID      *string `json:"workspace_id,omitempty"`
	Message          string  `json:"message"`
	Subject          *string `json:"subject,omitempty"`
}

// NewStreamRequest builds the request body for a run.
func NewStreamRequest(requestID string, p RunParams) StreamRequest {
	return StreamRequest{
		RequestID:        requestID,
		BusinessAgentKey: p.BusinessAgentKey,
		UserID:           p.UserID,
		TenantID:         p.TenantID,
		WorkspaceID:      p.WorkspaceID,
		Message:          p.Message,
		Subject:          p.Subject,
	}
}
