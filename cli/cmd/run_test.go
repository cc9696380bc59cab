package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

const (
	plannerLine   = `{"type":"planner.update","request_id":"r1","execution_id":"e1","business_agent_key":"credit","stage":"planning"}`
	nodeLine      = `{"type":"node.status","request_id":"r1","execution_id":"e1","node_id":"n1","status":"completed"}`
	finalLine     = `{"type":"final_answer","request_id":"r1","execution_id":"e1","message":"done"}`
	completedLine = `{"type":"graph_completed","request_id":"r1","execution_id":"e1","status":"COMPLETED"}`
	failedLine    = `{"type":"graph_completed","request_id":"r1","execution_id":"e1","status":"FAILED"}`
)

// backend serves lines to every run and records the last request body.
func backend(t *testing.T, lines ...string) (*httptest.Server, <-chan types.StreamRequest) {
	t.Helper()
	reqs := make(chan types.StreamRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req types.StreamRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reqs <- req
		w.Header().Set("Content-Type", runtime.ContentTypeNDJSON)
		for _, l := range lines {
			_, _ = io.WriteString(w, l+"\n")
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func runArgs(endpoint string, extra ...string) []string {
	args := []string{"tributary", "run",
		"--endpoint", endpoint,
		"--tenant", "tenant-1",
		"--user", "user-1",
		"--agent", "credit",
		"--format", "json",
	}
	return append(args, extra...)
}

type stateView struct {
	RequestID   string            `json:"request_id"`
	Phase       string            `json:"phase"`
	IsStreaming bool              `json:"is_streaming"`
	Error       string            `json:"error"`
	FinalAnswer *string           `json:"final_answer"`
	Events      []json.RawMessage `json:"events"`
	ParseErrors int               `json:"parse_errors"`
}

// lastState decodes the final top-level JSON document in out.
func lastState(t *testing.T, out string) stateView {
	t.Helper()
	idx := strings.LastIndex(out, "\n{\n")
	if idx >= 0 {
		idx++
	} else if strings.HasPrefix(out, "{\n") {
		idx = 0
	} else {
		t.Fatalf("no JSON document in output:\n%s", out)
	}
	var v stateView
	if err := json.Unmarshal([]byte(out[idx:]), &v); err != nil {
		t.Fatalf("decode state: %v\n%s", err, out[idx:])
	}
	return v
}

func TestRun_Completed(t *testing.T) {
	srv, reqs := backend(t, plannerLine, nodeLine, finalLine, completedLine)
	var out bytes.Buffer
	app := testApp(&out, RunCommand())

	err := app.Run(runArgs(srv.URL, "--workspace", "ws-1", "what", "is", "my", "balance?"))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	req := <-reqs
	if req.Message != "what is my balance?" {
		t.Errorf("message = %q", req.Message)
	}
	if req.TenantID != "tenant-1" || req.UserID != "user-1" || req.BusinessAgentKey != "credit" {
		t.Errorf("identity = %+v", req)
	}
	if req.WorkspaceID == nil || *req.WorkspaceID != "ws-1" {
		t.Errorf("workspace_id = %v, want ws-1", req.WorkspaceID)
	}

	v := lastState(t, out.String())
	if v.Phase != string(types.RunPhaseFinished) || v.IsStreaming {
		t.Errorf("phase = %q streaming = %v", v.Phase, v.IsStreaming)
	}
	if len(v.Events) != 4 {
		t.Errorf("events = %d, want 4", len(v.Events))
	}
	if v.FinalAnswer == nil || *v.FinalAnswer != "done" {
		t.Errorf("final_answer = %v", v.FinalAnswer)
	}
}

func TestRun_MessageFlag(t *testing.T) {
	srv, reqs := backend(t, completedLine)
	var out bytes.Buffer
	app := testApp(&out, RunCommand())

	err := app.Run(runArgs(srv.URL, "--message", "hello", "--subject", "acct-9"))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	req := <-reqs
	if req.Message != "hello" {
		t.Errorf("message = %q, want hello", req.Message)
	}
	if req.Subject == nil || *req.Subject != "acct-9" {
		t.Errorf("subject = %v, want acct-9", req.Subject)
	}
}

func TestRun_BackendFailure(t *testing.T) {
	srv, _ := backend(t, plannerLine, failedLine)
	var out bytes.Buffer
	app := testApp(&out, RunCommand())

	err := app.Run(runArgs(srv.URL, "hello"))
	if code := exitCode(t, err); code != runtime.ExitCodeBackendFailure {
		t.Errorf("exit code = %d, want %d", code, runtime.ExitCodeBackendFailure)
	}
}

func TestRun_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	var out bytes.Buffer
	app := testApp(&out, RunCommand())

	err := app.Run(runArgs(srv.URL, "hello"))
	if code := exitCode(t, err); code != runtime.ExitCodeStreamError {
		t.Errorf("exit code = %d, want %d", code, runtime.ExitCodeStreamError)
	}
	v := lastState(t, out.String())
	if v.Phase != string(types.RunPhaseFailed) || !strings.Contains(v.Error, "503") {
		t.Errorf("phase = %q error = %q", v.Phase, v.Error)
	}
}

func TestRun_MalformedLinesKept(t *testing.T) {
	srv, _ := backend(t, plannerLine, "{broken", "[1,2]", completedLine)
	var out bytes.Buffer
	app := testApp(&out, RunCommand())

	err := app.Run(runArgs(srv.URL, "hello"))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	v := lastState(t, out.String())
	if v.ParseErrors != 2 || len(v.Events) != 2 {
		t.Errorf("parse_errors = %d events = %d, want 2 and 2", v.ParseErrors, len(v.Events))
	}
}

func TestRun_Events(t *testing.T) {
	srv, _ := backend(t, plannerLine, completedLine)
	var out bytes.Buffer
	app := testApp(&out, RunCommand())

	err := app.Run(runArgs(srv.URL, "--events", "hello"))
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	lines := strings.SplitN(out.String(), "\n", 3)
	if len(lines) < 3 || lines[0] != plannerLine || lines[1] != completedLine {
		t.Errorf("event lines = %q", lines)
	}
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing message", runArgs("http://127.0.0.1:1")},
		{"missing endpoint", []string{"tributary", "run", "--tenant", "t", "--user", "u", "--agent", "a", "hello"}},
		{"tui with events", runArgs("http://127.0.0.1:1", "--tui", "--events", "hello")},
		{"bad format", runArgs("http://127.0.0.1:1", "--format", "xml", "hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TRIBUTARY_ENDPOINT", "")
			var out bytes.Buffer
			app := testApp(&out, RunCommand())
			err := app.Run(tt.args)
			if code := exitCode(t, err); code != exitSetup {
				t.Errorf("exit code = %d, want %d (err=%v)", code, exitSetup, err)
			}
		})
	}
}

func writeRecording(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.ndjson")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	return path
}

func TestReplay_File(t *testing.T) {
	path := writeRecording(t, plannerLine, nodeLine, "not json", finalLine, completedLine)
	var out bytes.Buffer
	app := testApp(&out, ReplayCommand())

	err := app.Run([]string{"tributary", "replay", "--format", "json", "--chunk-size", "7", path})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}
	v := lastState(t, out.String())
	if v.RequestID != "r1" {
		t.Errorf("request_id = %q, want r1", v.RequestID)
	}
	if len(v.Events) != 4 || v.ParseErrors != 1 {
		t.Errorf("events = %d parse_errors = %d, want 4 and 1", len(v.Events), v.ParseErrors)
	}
}

func TestReplay_Stdin(t *testing.T) {
	var out bytes.Buffer
	app := testApp(&out, ReplayCommand())
	app.Reader = strings.NewReader(plannerLine + "\n" + failedLine + "\n")

	err := app.Run([]string{"tributary", "replay", "--format", "json", "-"})
	if code := exitCode(t, err); code != runtime.ExitCodeBackendFailure {
		t.Errorf("exit code = %d, want %d", code, runtime.ExitCodeBackendFailure)
	}
}

func TestReplay_Table(t *testing.T) {
	path := writeRecording(t, plannerLine, nodeLine, finalLine, completedLine)
	var out bytes.Buffer
	app := testApp(&out, ReplayCommand())

	err := app.Run([]string{"tributary", "replay", "--format", "table", path})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	for _, want := range []string{"n1", "Answer", "done"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no file", []string{"tributary", "replay"}},
		{"two files", []string{"tributary", "replay", "a", "b"}},
		{"missing file", []string{"tributary", "replay", "/nonexistent/run.ndjson"}},
		{"tui", []string{"tributary", "replay", "--tui", "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			app := testApp(&out, ReplayCommand())
			if code := exitCode(t, app.Run(tt.args)); code != exitSetup {
				t.Errorf("exit code = %d, want %d", code, exitSetup)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	app := testApp(&out, VersionCommand("abc123"))

	if err := app.Run([]string{"tributary", "version", "--format", "json"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != types.Version || resp.Commit != "abc123" {
		t.Errorf("version = %+v", resp)
	}
}
