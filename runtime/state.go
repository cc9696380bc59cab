package runtime

import (
	"errors"
	"time"

	"github.com/pithecene-io/tributary/ndjson"
	"github.com/pithecene-io/tributary/types"
)

// MaxDiagnostics bounds the number of parse diagnostics kept per run.
const MaxDiagnostics = 32

// maxPreview bounds the line preview stored in a Diagnostic.
const maxPreview = 160

// Diagnostic describes one skipped stream line.
type Diagnostic struct {
	// Line is a prefix of the offending line.
	Line string `json:"line"`
	// Error describes why the line was skipped.
	Error string `json:"error"`
}

// Effect reports what applying one event changed.
type Effect int

const (
	// EffectLogged means the event was only appended to the event log.
	EffectLogged Effect = iota
	// EffectPlanning means planningState was replaced.
	EffectPlanning
	// EffectSkillAdded means a new node was added to skillsExecuted.
	EffectSkillAdded
	// EffectSkillReplaced means an existing node entry was replaced in place.
	EffectSkillReplaced
	// EffectFinalAnswer means finalAnswer was set.
	EffectFinalAnswer
	// EffectCompleted means completedState was set.
	EffectCompleted
	// EffectDuplicateTerminal means a terminal event arrived after its field was already set.
	EffectDuplicateTerminal
)

func (e Effect) String() string {
	switch e {
	case EffectLogged:
		return "logged"
	case EffectPlanning:
		return "planning"
	case EffectSkillAdded:
		return "skill_added"
	case EffectSkillReplaced:
		return "skill_replaced"
	case EffectFinalAnswer:
		return "final_answer"
	case EffectCompleted:
		return "completed"
	case EffectDuplicateTerminal:
		return "duplicate_terminal"
	default:
		return "unknown"
	}
}

// RunState is the aggregate view of one run.
//
// It is mutated only through Apply and the consumer's lifecycle transitions.
// Values handed to observers are deep copies produced by Snapshot.
type RunState struct {
	// RequestID identifies the run.
	RequestID string `json:"request_id"`
	// Phase is the derived lifecycle phase.
	Phase types.RunPhase `json:"phase"`
	// IsStreaming is true from run start until end of stream, error or abort.
	IsStreaming bool `json:"is_streaming"`
	// Error describes a transport or read failure. It is never set by an abort.
	Error string `json:"error,omitempty"`
	// FinalAnswer is the message of the first final_answer event.
	FinalAnswer *string `json:"final_answer,omitempty"`
	// PlanningState is the most recent planner.update event.
	PlanningState *types.PlannerUpdate `json:"planning_state,omitempty"`
	// SkillsExecuted holds the latest node.status per node_id, in discovery order.
	SkillsExecuted []*types.NodeStatus `json:"skills_executed"`
	// CompletedState is the first graph_completed event.
	CompletedState *types.GraphCompleted `json:"completed_state,omitempty"`
	// Events is every classified event in wire order.
	Events []types.Event `json:"events"`
	// Diagnostics are the most recent skipped lines, oldest first.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	// ParseErrors counts every skipped line, including those no longer in Diagnostics.
	ParseErrors int `json:"parse_errors"`
	// StartedAt is when the run was started.
	StartedAt time.Time `json:"started_at,omitzero"`
	// EndedAt is when the run reached a terminal phase.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	err        error
	skillIndex map[string]int
}

// NewRunState returns an empty state for a run that has just started.
func NewRunState(requestID string, startedAt time.Time) *RunState {
	return &RunState{
		RequestID:      requestID,
		Phase:          types.RunPhaseStreaming,
		IsStreaming:    true,
		SkillsExecuted: []*types.NodeStatus{},
		Events:         []types.Event{},
		StartedAt:      startedAt,
	}
}

// Fold applies events in order to an empty state.
// The result does not depend on how the events were chunked on the wire.
func Fold(events ...types.Event) *RunState {
	s := &RunState{Phase: types.RunPhaseIdle, SkillsExecuted: []*types.NodeStatus{}, Events: []types.Event{}}
	for _, ev := range events {
		s.Apply(ev)
	}
	return s
}

// Apply folds one event into the state.
func (s *RunState) Apply(ev types.Event) Effect {
	s.Events = append(s.Events, ev)

	switch e := ev.(type) {
	case *types.PlannerUpdate:
		s.PlanningState = e
		return EffectPlanning

	case *types.NodeStatus:
		if s.skillIndex == nil {
			s.reindexSkills()
		}
		if i, ok := s.skillIndex[e.NodeID]; ok {
			s.SkillsExecuted[i] = e
			return EffectSkillReplaced
		}
		s.skillIndex[e.NodeID] = len(s.SkillsExecuted)
		s.SkillsExecuted = append(s.SkillsExecuted, e)
		return EffectSkillAdded

	case *types.FinalAnswer:
		if s.FinalAnswer != nil {
			return EffectDuplicateTerminal
		}
		msg := e.Message
		s.FinalAnswer = &msg
		return EffectFinalAnswer

	case *types.GraphCompleted:
		if s.CompletedState != nil {
			return EffectDuplicateTerminal
		}
		s.CompletedState = e
		return EffectCompleted

	default:
		// llm.tokens, debug_log and unknown types only extend the log.
		return EffectLogged
	}
}

func (s *RunState) reindexSkills() {
	s.skillIndex = make(map[string]int, len(s.SkillsExecuted))
	for i, n := range s.SkillsExecuted {
		s.skillIndex[n.NodeID] = i
	}
}

// RecordParseError notes a skipped line.
func (s *RunState) RecordParseError(err error) {
	s.ParseErrors++

	d := Diagnostic{Error: err.Error()}
	var lineErr *ndjson.LineError
	if errors.As(err, &lineErr) {
		d.Error = lineErr.Kind.String() + ": " + lineErr.Error()
		d.Line = preview(lineErr.Line)
	}
	if len(s.Diagnostics) == MaxDiagnostics {
		copy(s.Diagnostics, s.Diagnostics[1:])
		s.Diagnostics = s.Diagnostics[:MaxDiagnostics-1]
	}
	s.Diagnostics = append(s.Diagnostics, d)
}

func preview(line []byte) string {
	if len(line) <= maxPreview {
		return string(line)
	}
	return string(line[:maxPreview]) + "..."
}

// Err returns the failure that ended the run, or nil.
func (s *RunState) Err() error {
	return s.err
}

// Skill returns the latest status for a node.
func (s *RunState) Skill(nodeID string) (*types.NodeStatus, bool) {
	if s.skillIndex == nil {
		s.reindexSkills()
	}
	i, ok := s.skillIndex[nodeID]
	if !ok {
		return nil, false
	}
	return s.SkillsExecuted[i], true
}

// FinalAnswerEvent returns the event that set FinalAnswer, for callers that
// need its citations or confidence.
func (s *RunState) FinalAnswerEvent() *types.FinalAnswer {
	if s.FinalAnswer == nil {
		return nil
	}
	for _, ev := range s.Events {
		if fa, ok := ev.(*types.FinalAnswer); ok {
			return fa
		}
	}
	return nil
}

// TokenTotals sums token accounting across llm.tokens events.
type TokenTotals struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
	Calls      int   `json:"calls"`
}

// TokenTotals derives token totals from the event log.
func (s *RunState) TokenTotals() TokenTotals {
	var t TokenTotals
	for _, ev := range s.Events {
		if tok, ok := ev.(*types.LLMTokens); ok {
			t.Prompt += tok.PromptTokens
			t.Completion += tok.CompletionTokens
			t.Total += tok.TotalTokens
			t.Calls++
		}
	}
	return t
}

// ExecutionID returns the execution id of the first event that carried one.
func (s *RunState) ExecutionID() string {
	for _, ev := range s.Events {
		if id := ev.Header().ExecutionID; id != "" {
			return id
		}
	}
	return ""
}

// Duration returns the elapsed run time, up to now if still streaming.
func (s *RunState) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// --- lifecycle ---

func (s *RunState) end(phase types.RunPhase, at time.Time) {
	s.IsStreaming = false
	s.Phase = phase
	s.EndedAt = &at
}

func (s *RunState) markFinished(at time.Time) {
	s.end(types.RunPhaseFinished, at)
}

func (s *RunState) markAborted(at time.Time) {
	s.end(types.RunPhaseAborted, at)
}

func (s *RunState) markFailed(err error, at time.Time) {
	s.err = err
	s.Error = err.Error()
	s.end(types.RunPhaseFailed, at)
}

// Snapshot returns a deep copy that later mutation of s cannot affect.
// Event values are shared; they are immutable once decoded.
func (s *RunState) Snapshot() *RunState {
	c := *s
	c.Events = append([]types.Event(nil), s.Events...)
	c.SkillsExecuted = append([]*types.NodeStatus(nil), s.SkillsExecuted...)
	if s.Diagnostics != nil {
		c.Diagnostics = append([]Diagnostic(nil), s.Diagnostics...)
	}
	if s.FinalAnswer != nil {
		msg := *s.FinalAnswer
		c.FinalAnswer = &msg
	}
	if s.EndedAt != nil {
		at := *s.EndedAt
		c.EndedAt = &at
	}
	if c.Events == nil {
		c.Events = []types.Event{}
	}
	if c.SkillsExecuted == nil {
		c.SkillsExecuted = []*types.NodeStatus{}
	}
	c.skillIndex = nil
	return &c
}
