package render

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/tributary/ndjson"
	"github.com/pithecene-io/tributary/runtime"
)

const recordedRun = `{"type":"planner.update","request_id":"r1","execution_id":"e1","business_agent_key":"credit","stage":"executing"}
{"type":"node.status","request_id":"r1","execution_id":"e1","node_id":"n1","skill_name":"lookup_balance","status":"SUCCESS","duration_ms":250}
{"type":"node.status","request_id":"r1","execution_id":"e1","node_id":"n2","status":"FAILED"}
{"type":"llm.tokens","request_id":"r1","execution_id":"e1","prompt_tokens":10,"completion_tokens":5,"total_tokens":15,"model":"m1"}
{"type":"final_answer","request_id":"r1","execution_id":"e1","message":"Your balance is 42."}
{"type":"graph_completed","request_id":"r1","execution_id":"e1","status":"COMPLETED","total_duration_ms":900,"tokens_used_total":15}
`

func replayed(t *testing.T) *runtime.RunState {
	t.Helper()
	st := runtime.Replay(context.Background(), strings.NewReader(recordedRun), runtime.ReplayOptions{})
	if len(st.Events) != 6 {
		t.Fatalf("replay folded %d events, want 6", len(st.Events))
	}
	return st
}

func TestRenderRun_Table(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	if err := r.RenderRun(replayed(t)); err != nil {
		t.Fatalf("RenderRun failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{
		"request_id:", "r1", "phase:", "finished", "stage:", "executing",
		"graph_status:", "COMPLETED", "tokens:", "15",
		"NODE", "lookup_balance", "SUCCESS", "250ms", "n2", "FAILED",
		"Answer", "Your balance is 42.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Error("no-color table output contains escape codes")
	}
}

func TestRenderRun_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)
	if err := r.RenderRun(replayed(t)); err != nil {
		t.Fatalf("RenderRun failed: %v", err)
	}

	var got struct {
		RequestID      string            `json:"request_id"`
		IsStreaming    bool              `json:"is_streaming"`
		FinalAnswer    string            `json:"final_answer"`
		SkillsExecuted []json.RawMessage `json:"skills_executed"`
		Events         []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got.RequestID != "r1" || got.IsStreaming || got.FinalAnswer != "Your balance is 42." {
		t.Errorf("unexpected state: %+v", got)
	}
	if len(got.SkillsExecuted) != 2 || len(got.Events) != 6 {
		t.Errorf("skills = %d events = %d", len(got.SkillsExecuted), len(got.Events))
	}
}

func TestRenderRun_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)
	if err := r.RenderRun(replayed(t)); err != nil {
		t.Fatalf("RenderRun failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"request_id: r1", "is_streaming: false", "- type: planner.update", "final_answer: Your balance is 42."} {
		if !strings.Contains(got, want) {
			t.Errorf("YAML output missing %q:\n%s", want, got)
		}
	}
}

func TestRenderEvent_JSONEchoesSource(t *testing.T) {
	line := `{ "type": "debug_log", "message": "hi", "level": "info", "extra": 1 }`
	ev, err := ndjson.Classify([]byte(line))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)
	if err := r.RenderEvent(ev); err != nil {
		t.Fatalf("RenderEvent failed: %v", err)
	}
	want := `{"type":"debug_log","message":"hi","level":"info","extra":1}` + "\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestRenderEvent_Table(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"type":"planner.update","business_agent_key":"credit","stage":"planning","summary":"two steps"}`, `credit stage=planning "two steps"`},
		{`{"type":"node.status","node_id":"n1","skill_id":"sk-1","status":"RUNNING"}`, "n1 sk-1 RUNNING"},
		{`{"type":"llm.tokens","model":"m1","prompt_tokens":1,"completion_tokens":2,"total_tokens":3}`, "m1 prompt=1 completion=2 total=3"},
		{`{"type":"debug_log","message":"hi","level":"warn"}`, "[warn] hi"},
		{`{"type":"final_answer","message":"done"}`, `"done"`},
		{`{"type":"graph_completed","status":"TIMEOUT","total_duration_ms":1500}`, "TIMEOUT duration=1.5s"},
		{`{"type":"heartbeat"}`, "(unrecognized)"},
	}

	for _, tt := range tests {
		ev, err := ndjson.Classify([]byte(tt.line))
		if err != nil {
			t.Fatalf("Classify(%s): %v", tt.line, err)
		}
		var buf bytes.Buffer
		r := NewRendererWithWriter(FormatTable, true, &buf)
		if err := r.RenderEvent(ev); err != nil {
			t.Fatalf("RenderEvent failed: %v", err)
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("RenderEvent(%s) = %q, want it to contain %q", tt.line, buf.String(), tt.want)
		}
	}
}
