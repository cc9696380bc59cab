package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/tributary/adapter"
	"github.com/pithecene-io/tributary/types"
)

func testParams() types.RunParams {
	ws := "ws-1"
	return types.RunParams{
		TenantID:         "tenant-1",
		UserID:           "user-1",
		BusinessAgentKey: "credit",
		Message:          "what is my balance?",
		WorkspaceID:      &ws,
	}
}

func TestBuildRunFinishedEvent_Completed(t *testing.T) {
	start := time.Now().Add(-3 * time.Second)
	s := NewRunState("r1", start)
	for _, l := range []string{nodeLine("n1", "RUNNING"), nodeLine("n2", "SUCCESS"), tokensLine, finalLine, completedLine} {
		s.Apply(mustClassify(t, l))
	}
	s.markFinished(start.Add(1500 * time.Millisecond))

	ev := BuildRunFinishedEvent(s, testParams())

	if ev.ContractVersion != types.ContractVersion || ev.EventType != adapter.EventTypeRunFinished {
		t.Errorf("header = %s/%s", ev.ContractVersion, ev.EventType)
	}
	if ev.RequestID != "r1" || ev.ExecutionID != "e1" {
		t.Errorf("ids = %s/%s", ev.RequestID, ev.ExecutionID)
	}
	if ev.TenantID != "tenant-1" || ev.UserID != "user-1" || ev.WorkspaceID != "ws-1" || ev.BusinessAgentKey != "credit" {
		t.Errorf("params not copied: %+v", ev)
	}
	if ev.Phase != "finished" || ev.Error != "" {
		t.Errorf("phase = %s, error = %q", ev.Phase, ev.Error)
	}
	if ev.FinalAnswer == nil || *ev.FinalAnswer != "done" {
		t.Errorf("FinalAnswer = %v", ev.FinalAnswer)
	}
	if ev.GraphStatus != "COMPLETED" || ev.TokensUsedTotal != 120 {
		t.Errorf("graph = %s tokens = %d", ev.GraphStatus, ev.TokensUsedTotal)
	}
	if len(ev.Skills) != 2 || ev.Skills[0] != "n1" || ev.Skills[1] != "n2" {
		t.Errorf("Skills = %v", ev.Skills)
	}
	if ev.EventCount != 5 {
		t.Errorf("EventCount = %d, want 5", ev.EventCount)
	}
	if ev.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", ev.DurationMs)
	}
	if _, err := time.Parse(time.RFC3339, ev.Timestamp); err != nil {
		t.Errorf("Timestamp %q: %v", ev.Timestamp, err)
	}
}

func TestBuildRunFinishedEvent_FailedWithoutSummary(t *testing.T) {
	s := NewRunState("r2", time.Now())
	s.Apply(mustClassify(t, tokensLine))
	s.Apply(mustClassify(t, tokensLine))
	s.markFailed(&StreamError{Kind: StreamErrorRead, Err: errors.New("connection reset")}, time.Now())

	params := testParams()
	params.WorkspaceID = nil
	ev := BuildRunFinishedEvent(s, params)

	if ev.Phase != "failed" || ev.Error != "stream read error: connection reset" {
		t.Errorf("phase = %s, error = %q", ev.Phase, ev.Error)
	}
	if ev.GraphStatus != "" || ev.FinalAnswer != nil || ev.WorkspaceID != "" {
		t.Errorf("unexpected optional fields: %+v", ev)
	}
	// Falls back to the llm.tokens sum.
	if ev.TokensUsedTotal != 240 {
		t.Errorf("TokensUsedTotal = %d, want 240", ev.TokensUsedTotal)
	}
}
