// Package adapter defines the run-finished notification boundary.
//
// Adapters publish one notification per run to downstream systems once the
// run reaches a terminal phase. The consumer owns adapter lifecycle; users
// provide configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventTypeRunFinished is the event_type of every notification.
const EventTypeRunFinished = "run_finished"

// RunFinishedEvent is the payload published when a run ends.
type RunFinishedEvent struct {
	ContractVersion  string   `json:"contract_version" msgpack:"contract_version"`
	EventType        string   `json:"event_type" msgpack:"event_type"` // always "run_finished"
	RequestID        string   `json:"request_id" msgpack:"request_id"`
	ExecutionID      string   `json:"execution_id,omitempty" msgpack:"execution_id,omitempty"`
	TenantID         string   `json:"tenant_id" msgpack:"tenant_id"`
	UserID           string   `json:"user_id" msgpack:"user_id"`
	WorkspaceID      string   `json:"workspace_id,omitempty" msgpack:"workspace_id,omitempty"`
	BusinessAgentKey string   `json:"business_agent_key" msgpack:"business_agent_key"`
	Phase            string   `json:"phase" msgpack:"phase"` // finished, failed, aborted
	Error            string   `json:"error,omitempty" msgpack:"error,omitempty"`
	FinalAnswer      *string  `json:"final_answer,omitempty" msgpack:"final_answer,omitempty"`
	GraphStatus      string   `json:"graph_status,omitempty" msgpack:"graph_status,omitempty"`
	Skills           []string `json:"skills,omitempty" msgpack:"skills,omitempty"` // node ids in discovery order
	EventCount       int      `json:"event_count" msgpack:"event_count"`
	ParseErrors      int      `json:"parse_errors" msgpack:"parse_errors"`
	TokensUsedTotal  int64    `json:"tokens_used_total" msgpack:"tokens_used_total"`
	DurationMs       int64    `json:"duration_ms" msgpack:"duration_ms"`
	Timestamp        string   `json:"timestamp" msgpack:"timestamp"` // RFC 3339
}

// Adapter publishes run-finished events to a downstream system.
type Adapter interface {
	// Publish sends a run-finished event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunFinishedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Encoding selects the payload wire format.
type Encoding string

// Supported encodings.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding parses an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("invalid encoding %q (valid: json, msgpack)", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Encode serializes the event in the given encoding.
func Encode(event *RunFinishedEvent, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingMsgpack:
		return msgpack.Marshal(event)
	case "", EncodingJSON:
		return json.Marshal(event)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

// Backoff returns the delay before retry attempt i (i >= 1):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn succeeds, when ctx ends, or when
// permanent reports the error as non-retriable. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, fn func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
