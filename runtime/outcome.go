package runtime

import (
	"github.com/pithecene-io/tributary/types"
)

// Exit codes for a finished run.
const (
	ExitCodeSuccess        = 0 // stream ended and the backend did not report failure
	ExitCodeBackendFailure = 1 // graph_completed reported FAILED or TIMEOUT
	ExitCodeStreamError    = 2 // transport, read or idle-timeout error
	ExitCodeAborted        = 3 // aborted by the caller
)

// Outcome summarizes how a run ended.
type Outcome struct {
	// Phase is the terminal phase.
	Phase types.RunPhase `json:"phase"`
	// ExitCode is the process exit code for CLI surfaces.
	ExitCode int `json:"exit_code"`
	// Message is a human-readable description.
	Message string `json:"message"`
}

// DetermineOutcome classifies a terminal snapshot.
//
// Failure is read from the error field first. A clean stream is then judged
// by graph_completed when present; a stream that ended without it but with
// a final answer is still a success.
func DetermineOutcome(state *RunState) Outcome {
	if state == nil {
		return Outcome{Phase: types.RunPhaseIdle, ExitCode: ExitCodeStreamError, Message: "no run"}
	}

	switch state.Phase {
	case types.RunPhaseFailed:
		return Outcome{Phase: state.Phase, ExitCode: ExitCodeStreamError, Message: state.Error}
	case types.RunPhaseAborted:
		return Outcome{Phase: state.Phase, ExitCode: ExitCodeAborted, Message: "run aborted"}
	case types.RunPhaseIdle, types.RunPhaseStreaming:
		return Outcome{Phase: state.Phase, ExitCode: ExitCodeStreamError, Message: "run has not finished"}
	}

	if cs := state.CompletedState; cs != nil {
		switch cs.Status {
		case types.GraphStatusFailed:
			return Outcome{Phase: state.Phase, ExitCode: ExitCodeBackendFailure, Message: "backend reported FAILED"}
		case types.GraphStatusTimeout:
			return Outcome{Phase: state.Phase, ExitCode: ExitCodeBackendFailure, Message: "backend reported TIMEOUT"}
		}
		return Outcome{Phase: state.Phase, ExitCode: ExitCodeSuccess, Message: "run completed"}
	}

	if state.FinalAnswer != nil {
		return Outcome{Phase: state.Phase, ExitCode: ExitCodeSuccess, Message: "stream ended with final answer"}
	}
	return Outcome{Phase: state.Phase, ExitCode: ExitCodeSuccess, Message: "stream ended without completion summary"}
}
