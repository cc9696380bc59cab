package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRunParams_Validate(t *testing.T) {
	valid := RunParams{TenantID: "t1", UserID: "u1", BusinessAgentKey: "credit", Message: "hello"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	err := RunParams{TenantID: "t1"}.Validate()
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
	for _, field := range []string{"user_id", "business_agent_key", "message"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
	if strings.Contains(err.Error(), "tenant_id") {
		t.Errorf("error %q mentions tenant_id which was set", err)
	}
}

func TestNewStreamRequest_OmitsAbsentOptionals(t *testing.T) {
	req := NewStreamRequest("r1", RunParams{TenantID: "t1", UserID: "u1", BusinessAgentKey: "credit", Message: "hi"})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"request_id":"r1","business_agent_key":"credit","user_id":"u1","tenant_id":"t1","message":"hi"}`
	if string(data) != want {
		t.Errorf("body = %s, want %s", data, want)
	}
}

func TestNewStreamRequest_IncludesOptionals(t *testing.T) {
	ws, subj := "w1", "cust-42"
	req := NewStreamRequest("r1", RunParams{
		TenantID: "t1", UserID: "u1", BusinessAgentKey: "credit", Message: "hi",
		WorkspaceID: &ws, Subject: &subj,
	})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["workspace_id"] != "w1" || got["subject"] != "cust-42" {
		t.Errorf("optional fields = %v/%v, want w1/cust-42", got["workspace_id"], got["subject"])
	}
}

func TestRunPhase_IsTerminal(t *testing.T) {
	tests := map[RunPhase]bool{
		RunPhaseIdle:      false,
		RunPhaseStreaming: false,
		RunPhaseFinished:  true,
		RunPhaseFailed:    true,
		RunPhaseAborted:   true,
	}
	for phase, want := range tests {
		if got := phase.IsTerminal(); got != want {
			t.Errorf("RunPhase(%q).IsTerminal() = %v, want %v", phase, got, want)
		}
	}
}
