package render

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	headStyle    = lipgloss.NewStyle().Bold(true)
)

// RunSummary is the flat view of a run shown in table output.
type RunSummary struct {
	RequestID   string `json:"request_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Phase       string `json:"phase"`
	Stage       string `json:"stage,omitempty"`
	Skills      int    `json:"skills"`
	Events      int    `json:"events"`
	ParseErrors int    `json:"parse_errors"`
	Tokens      int64  `json:"tokens"`
	GraphStatus string `json:"graph_status,omitempty"`
	Duration    string `json:"duration"`
	Error       string `json:"error,omitempty"`
}

// Summarize builds the summary view of a run.
func Summarize(state *runtime.RunState) RunSummary {
	s := RunSummary{
		RequestID:   state.RequestID,
		ExecutionID: state.ExecutionID(),
		Phase:       string(state.Phase),
		Skills:      len(state.SkillsExecuted),
		Events:      len(state.Events),
		ParseErrors: state.ParseErrors,
		Tokens:      state.TokenTotals().Total,
		Duration:    state.Duration(time.Now()).Round(time.Millisecond).String(),
		Error:       state.Error,
	}
	if p := state.PlanningState; p != nil && p.Stage != nil {
		s.Stage = *p.Stage
	}
	if cs := state.CompletedState; cs != nil {
		s.GraphStatus = string(cs.Status)
		s.Tokens = cs.TokensUsedTotal
	}
	return s
}

// RenderRun renders a run. JSON and YAML emit the full state; table emits
// the summary, the skill list and the final answer.
func (r *Renderer) RenderRun(state *runtime.RunState) error {
	if r.format != FormatTable {
		return r.Render(state)
	}

	if err := r.renderStructTable(reflect.ValueOf(Summarize(state))); err != nil {
		return err
	}

	if len(state.SkillsExecuted) > 0 {
		fmt.Fprintln(r.out)
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, r.style(headStyle, "NODE")+"\t"+r.style(headStyle, "SKILL")+"\t"+
			r.style(headStyle, "STATUS")+"\t"+r.style(headStyle, "DURATION"))
		for _, n := range state.SkillsExecuted {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.NodeID, skillLabel(n), r.statusText(n.Status), durationText(n.DurationMS))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if state.FinalAnswer != nil {
		fmt.Fprintf(r.out, "\n%s\n%s\n", r.style(headStyle, "Answer"), *state.FinalAnswer)
	}
	return nil
}

// RenderEvent renders one folded event as it arrives.
func (r *Renderer) RenderEvent(ev types.Event) error {
	switch r.format {
	case FormatJSON:
		line := ev.Header().Source
		if len(line) == 0 {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			line = data
		}
		_, err := fmt.Fprintln(r.out, compactJSON(line))
		return err
	case FormatYAML:
		fmt.Fprintln(r.out, "---")
		return r.renderYAML(ev)
	default:
		_, err := fmt.Fprintf(r.out, "%-16s %s\n", ev.Header().Type, r.EventDetail(ev))
		return err
	}
}

// EventDetail is a one-line description of an event.
func (r *Renderer) EventDetail(ev types.Event) string {
	switch e := ev.(type) {
	case *types.PlannerUpdate:
		parts := []string{e.BusinessAgentKey}
		if e.Stage != nil {
			parts = append(parts, "stage="+*e.Stage)
		}
		if e.Summary != nil {
			parts = append(parts, strconv.Quote(*e.Summary))
		}
		return strings.Join(parts, " ")
	case *types.NodeStatus:
		return fmt.Sprintf("%s %s %s", e.NodeID, skillLabel(e), r.statusText(e.Status))
	case *types.LLMTokens:
		return fmt.Sprintf("%s prompt=%d completion=%d total=%d", e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens)
	case *types.DebugLog:
		return fmt.Sprintf("[%s] %s", e.Level, e.Message)
	case *types.FinalAnswer:
		return strconv.Quote(e.Message)
	case *types.GraphCompleted:
		return fmt.Sprintf("%s duration=%s tokens=%d skills=%d llm_calls=%d",
			r.graphText(e.Status), durationText(&e.TotalDurationMS), e.TokensUsedTotal, e.SkillCallCount, e.LLMCallCount)
	default:
		return "(unrecognized)"
	}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.noColor {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) statusText(status types.NodeStatusValue) string {
	switch status {
	case types.NodeStatusSuccess:
		return r.style(okStyle, string(status))
	case types.NodeStatusFailed:
		return r.style(failStyle, string(status))
	default:
		return r.style(runningStyle, string(status))
	}
}

func (r *Renderer) graphText(status types.GraphStatus) string {
	if status == types.GraphStatusCompleted {
		return r.style(okStyle, string(status))
	}
	return r.style(failStyle, string(status))
}

func skillLabel(n *types.NodeStatus) string {
	switch {
	case n.SkillName != nil:
		return *n.SkillName
	case n.SkillID != nil:
		return *n.SkillID
	case n.NodeType != nil:
		return *n.NodeType
	default:
		return "-"
	}
}

func durationText(ms *float64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms * float64(time.Millisecond))).Round(time.Millisecond).String()
}
