package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

// StateMsg delivers a new run snapshot to the model.
type StateMsg struct {
	State *runtime.RunState
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "abort and quit"),
	),
}

// RunModel is the live view of one run.
type RunModel struct {
	state    *runtime.RunState
	abort    func() bool
	spinner  spinner.Model
	width    int
	aborted  bool
	quitting bool
}

// NewRunModel creates a model. abort is called when the user quits while
// the run is still streaming.
func NewRunModel(abort func() bool) RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = WarningStyle
	return RunModel{abort: abort, spinner: s}
}

// State returns the latest snapshot, or nil before the first one.
func (m RunModel) State() *runtime.RunState {
	return m.state
}

// Aborted returns true if the user aborted the run from the view.
func (m RunModel) Aborted() bool {
	return m.aborted
}

func (m RunModel) streaming() bool {
	return m.state == nil || m.state.IsStreaming
}

// Init implements tea.Model.
func (m RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case StateMsg:
		m.state = msg.State
		return m, nil

	case spinner.TickMsg:
		if !m.streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.streaming() {
			if key.Matches(msg, keys.Quit) {
				if m.abort != nil && m.abort() {
					m.aborted = true
				}
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}
		// The run has ended; any key leaves the final view.
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m RunModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	st := m.state
	if st == nil {
		b.WriteString(m.spinner.View() + " starting run...\n")
		b.WriteString(HelpStyle.Render("q: abort and quit"))
		return b.String()
	}

	header := TitleStyle.Render("Run " + st.RequestID)
	phase := PhaseStyle(st.Phase).Render(string(st.Phase))
	if st.IsStreaming {
		phase = m.spinner.View() + " " + phase
	}
	fmt.Fprintf(&b, "%s  %s\n", header, phase)

	if p := st.PlanningState; p != nil {
		b.WriteString(SectionStyle.Render("Planner") + "\n")
		writeRow(&b, "Agent", agentName(p))
		if p.Stage != nil {
			writeRow(&b, "Stage", *p.Stage)
		}
		if p.Summary != nil {
			writeRow(&b, "Summary", *p.Summary)
		}
	}

	if len(st.SkillsExecuted) > 0 {
		b.WriteString(SectionStyle.Render(fmt.Sprintf("Skills (%d)", len(st.SkillsExecuted))) + "\n")
		for _, n := range st.SkillsExecuted {
			style, marker := NodeStyle(n.Status)
			line := fmt.Sprintf("%s %s %s", marker, nodeLabel(n), MutedStyle.Render(string(n.Status)))
			if n.DurationMS != nil {
				line += MutedStyle.Render(" " + msDuration(*n.DurationMS))
			}
			b.WriteString("  " + style.Render(line) + "\n")
		}
	}

	if tt := st.TokenTotals(); tt.Calls > 0 {
		b.WriteString(SectionStyle.Render("Tokens") + "\n")
		writeRow(&b, "LLM calls", fmt.Sprintf("%d", tt.Calls))
		writeRow(&b, "Prompt", fmt.Sprintf("%d", tt.Prompt))
		writeRow(&b, "Completion", fmt.Sprintf("%d", tt.Completion))
		writeRow(&b, "Total", fmt.Sprintf("%d", tt.Total))
	}

	if st.FinalAnswer != nil {
		b.WriteString(SectionStyle.Render("Answer") + "\n")
		answer := AnswerStyle
		if m.width > 4 {
			answer = answer.Width(m.width - 4)
		}
		b.WriteString(answer.Render(*st.FinalAnswer) + "\n")
	}

	if cs := st.CompletedState; cs != nil {
		style := SuccessStyle
		if cs.Status != types.GraphStatusCompleted {
			style = ErrorStyle
		}
		b.WriteString(SectionStyle.Render("Completed") + "\n")
		writeRow(&b, "Status", style.Render(string(cs.Status)))
		writeRow(&b, "Duration", msDuration(cs.TotalDurationMS))
		writeRow(&b, "Skill calls", fmt.Sprintf("%d", cs.SkillCallCount))
		writeRow(&b, "LLM calls", fmt.Sprintf("%d", cs.LLMCallCount))
	}

	if st.ParseErrors > 0 {
		b.WriteString("\n" + WarningStyle.Render(fmt.Sprintf("%d malformed line(s) skipped", st.ParseErrors)) + "\n")
	}
	if st.Error != "" {
		b.WriteString("\n" + ErrorStyle.Render("Error: "+st.Error) + "\n")
	}

	help := "q: abort and quit"
	if !st.IsStreaming {
		help = "press any key to exit"
	}
	b.WriteString(HelpStyle.Render(help))
	return b.String()
}

func writeRow(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

func agentName(p *types.PlannerUpdate) string {
	name := p.BusinessAgentKey
	if p.BusinessAgentName != nil {
		name = *p.BusinessAgentName
	}
	if p.ProcessAgentName != nil {
		name += " / " + *p.ProcessAgentName
	} else if p.ProcessAgentKey != nil {
		name += " / " + *p.ProcessAgentKey
	}
	return name
}

func nodeLabel(n *types.NodeStatus) string {
	switch {
	case n.SkillName != nil:
		return *n.SkillName
	case n.SkillID != nil:
		return *n.SkillID
	default:
		return n.NodeID
	}
}

func msDuration(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}

// Observer forwards consumer snapshots to a running program.
func Observer(p *tea.Program) runtime.Observer {
	return runtime.ObserverFunc(func(st *runtime.RunState) {
		p.Send(StateMsg{State: st})
	})
}

// Watch shows the live view for the run that start launches on c, and
// returns the model's final state once the user leaves the view.
func Watch(c *runtime.Consumer, start func() error, opts ...tea.ProgramOption) (RunModel, error) {
	p := tea.NewProgram(NewRunModel(c.Abort), opts...)
	unsubscribe := c.Subscribe(Observer(p))
	defer unsubscribe()

	if err := start(); err != nil {
		return RunModel{}, err
	}

	final, err := p.Run()
	if err != nil {
		c.Abort()
		return RunModel{}, fmt.Errorf("tui: %w", err)
	}
	m, _ := final.(RunModel)
	return m, nil
}
