package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/MaciejBaj/cargo-contract/pipeline"
)

var (
	stageDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stageRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)
	stagePendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	failStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
)

// displayStages in pipeline order, with the states that complete them.
var displayStages = []struct {
	label string
	state pipeline.State
}{
	{"compile", pipeline.StateLoaded},
	{"optimize", pipeline.StateOptimized},
	{"validate", pipeline.StateValidated},
	{"metadata", pipeline.StateMetadataReady},
	{"package", pipeline.StatePackaged},
}

type stageMsg pipeline.State

type doneMsg struct {
	res *pipeline.Result
	err error
}

type buildModel struct {
	spinner spinner.Model
	reached map[pipeline.State]bool
	res     *pipeline.Result
	err     error
	done    bool
}

func newBuildModel() buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow"))
	return buildModel{
		spinner: s,
		reached: make(map[pipeline.State]bool),
	}
}

func (m buildModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.err = fmt.Errorf("interrupted")
			m.done = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case stageMsg:
		m.reached[pipeline.State(msg)] = true
		return m, nil
	case doneMsg:
		m.res = msg.res
		m.err = msg.err
		m.done = true
		if m.err == nil && m.res != nil {
			// A cache hit jumps straight to Done; settle the display.
			for _, st := range displayStages {
				if st.state <= m.res.State {
					m.reached[st.state] = true
				}
			}
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m buildModel) View() string {
	var b strings.Builder
	sawPending := false
	for _, st := range displayStages {
		switch {
		case m.reached[st.state]:
			b.WriteString(stageDoneStyle.Render("  ✓ " + st.label))
		case m.err != nil:
			b.WriteString(failStyle.Render("  ✗ " + st.label))
		case !sawPending && !m.done:
			b.WriteString(stageRunningStyle.Render("  " + m.spinner.View() + " " + st.label))
			sawPending = true
		default:
			b.WriteString(stagePendingStyle.Render("    " + st.label))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// useTUI reports whether the animated display should run.
func (c *cli) useTUI() bool {
	return !c.quiet && !c.verbose && term.IsTerminal(int(os.Stdout.Fd()))
}

// runPipeline executes the request, with the animated stage display when
// stdout is a terminal and plain logging otherwise.
func (c *cli) runPipeline(ctx context.Context, p *pipeline.Pipeline, req pipeline.Request) (*pipeline.Result, error) {
	if !c.useTUI() {
		return p.Run(ctx, req)
	}

	prog := tea.NewProgram(newBuildModel(), tea.WithContext(ctx))
	p.OnState(func(s pipeline.State) {
		prog.Send(stageMsg(s))
	})
	go func() {
		res, err := p.Run(ctx, req)
		prog.Send(doneMsg{res: res, err: err})
	}()

	final, err := prog.Run()
	if err != nil {
		return nil, err
	}
	m := final.(buildModel)
	return m.res, m.err
}
