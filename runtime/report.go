package runtime

import (
	"time"

	"github.com/pithecene-io/tributary/adapter"
	"github.com/pithecene-io/tributary/types"
)

// BuildRunFinishedEvent composes the run-finished notification for a
// terminal snapshot.
func BuildRunFinishedEvent(state *RunState, params types.RunParams) *adapter.RunFinishedEvent {
	ev := &adapter.RunFinishedEvent{
		ContractVersion:  types.ContractVersion,
		EventType:        adapter.EventTypeRunFinished,
		RequestID:        state.RequestID,
		ExecutionID:      state.ExecutionID(),
		TenantID:         params.TenantID,
		UserID:           params.UserID,
		BusinessAgentKey: params.BusinessAgentKey,
		Phase:            string(state.Phase),
		Error:            state.Error,
		EventCount:       len(state.Events),
		ParseErrors:      state.ParseErrors,
		DurationMs:       state.Duration(time.Now()).Milliseconds(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	if params.WorkspaceID != nil {
		ev.WorkspaceID = *params.WorkspaceID
	}
	if state.FinalAnswer != nil {
		answer := *state.FinalAnswer
		ev.FinalAnswer = &answer
	}
	for _, n := range state.SkillsExecuted {
		ev.Skills = append(ev.Skills, n.NodeID)
	}

	if state.CompletedState != nil {
		ev.GraphStatus = string(state.CompletedState.Status)
		ev.TokensUsedTotal = state.CompletedState.TokensUsedTotal
	} else {
		ev.TokensUsedTotal = state.TokenTotals().Total
	}
	return ev
}
