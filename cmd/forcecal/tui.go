package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/models"
	"github.com/CK6170/forcecal-go/ui"
)

type screen int

const (
	screenEntry screen = iota
	screenMenu
	screenWrench
	screenReading
)

type model struct {
	scr  screen
	demo bool

	// entry
	configInput textinput.Model
	configPath  string

	// force / position prompt
	forceInput textinput.Model
	posInput   textinput.Model
	force      []float64

	dev      *forcecal.Device
	sess     *forcecal.Session
	lastErr  error
	infoLine string
	busy     bool

	// reading progress
	progress   forcecal.SampleUpdate
	progressCh <-chan forcecal.SampleUpdate

	// cancellation for a running reading
	opCtx    context.Context
	opCancel context.CancelFunc
	runID    int
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func newNumberInput(placeholder string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = 128
	in.Width = 40
	return in
}

func initialModel(configPath string, demo bool) model {
	in := textinput.New()
	in.Placeholder = "Path to parameters.json (empty for defaults)"
	in.CharLimit = 512
	in.Width = 60
	in.Focus()
	if configPath != "" {
		in.SetValue(configPath)
		in.CursorEnd()
	}
	return model{
		scr:         screenEntry,
		demo:        demo,
		configInput: in,
		configPath:  configPath,
		forceInput:  newNumberInput("fx fy fz  (N)"),
		posInput:    newNumberInput("x y z"),
	}
}

type errMsg struct{ err error }
type connectedMsg struct {
	dev        *forcecal.Device
	sess       *forcecal.Session
	configPath string
}
type wrenchPromptMsg struct{}
type wrenchStoredMsg struct{ w models.WrenchSample }
type readingProgressMsg struct {
	runID int
	u     forcecal.SampleUpdate
}
type readingDoneMsg struct {
	runID int
	res   forcecal.Result
	err   error
}
type solvedMsg struct{ res forcecal.Result }
type exportedMsg struct{ path string }

func (m model) Init() tea.Cmd {
	if m.configPath != "" || m.demo {
		return tea.Batch(textinput.Blink, m.connectCmd(m.configPath))
	}
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.shutdown()
			return m, tea.Quit
		}
		switch m.scr {
		case screenEntry:
			return m.updateEntryKey(msg)
		case screenMenu:
			return m.updateMenuKey(msg)
		case screenWrench:
			return m.updateWrenchKey(msg)
		case screenReading:
			if msg.String() == "esc" {
				m.stopOp()
			}
			return m, nil
		}

	case errMsg:
		m.lastErr = msg.err
		m.busy = false
		return m, nil

	case connectedMsg:
		m.dev = msg.dev
		m.sess = msg.sess
		m.configPath = msg.configPath
		m.scr = screenMenu
		m.lastErr = nil
		m.infoLine = fmt.Sprintf("Ready on %s (%s)", m.dev.Name, m.dev.Version)
		m.configInput.Blur()
		return m, nil

	case wrenchPromptMsg:
		m.busy = false
		m.scr = screenWrench
		m.force = nil
		m.forceInput.SetValue("")
		m.posInput.SetValue("")
		m.posInput.Blur()
		m.infoLine = "Please put the specified weight at the location you chose"
		return m, m.forceInput.Focus()

	case wrenchStoredMsg:
		m.busy = false
		m.dev.ApplyLoad(msg.w)
		m.scr = screenMenu
		m.lastErr = nil
		f, p := msg.w.Force(), msg.w.Position()
		m.infoLine = fmt.Sprintf("Input force = %g %g %g, location of force = %g %g %g", f.X, f.Y, f.Z, p.X, p.Y, p.Z)
		return m, nil

	case readingProgressMsg:
		if msg.runID != m.runID {
			return m, nil
		}
		m.progress = msg.u
		return m, waitProgress(m.runID, m.progressCh)

	case readingDoneMsg:
		if msg.runID != m.runID {
			return m, nil
		}
		m.stopOp()
		m.busy = false
		m.scr = screenMenu
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		unload(m.dev)
		m.lastErr = nil
		m.infoLine = fmt.Sprintf("Sensor readings = %s. Please remove the weight from the sensor", msg.res.Reading)
		return m, nil

	case solvedMsg:
		m.busy = false
		m.lastErr = nil
		m.infoLine = fmt.Sprintf("Calibration matrix computed from %d measurement groups", msg.res.Report.Samples)
		return m, nil

	case exportedMsg:
		m.busy = false
		m.lastErr = nil
		m.infoLine = "Results written to " + msg.path
		return m, nil
	}

	switch m.scr {
	case screenEntry:
		var cmd tea.Cmd
		m.configInput, cmd = m.configInput.Update(msg)
		return m, cmd
	case screenWrench:
		return m.updateWrenchInputs(msg)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	title := "Force Sensor Calibration"
	if m.demo {
		title += " (demo)"
	}
	b.WriteString(titleStyle.Render(title) + "\n")
	b.WriteString(helpStyle.Render("Ctrl+C to quit.") + "\n\n")
	if m.infoLine != "" {
		b.WriteString(okStyle.Render(m.infoLine) + "\n")
	}
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("Error: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString("\n")

	switch m.scr {
	case screenEntry:
		b.WriteString(m.viewEntry())
	case screenMenu:
		b.WriteString(m.viewMenu())
	case screenWrench:
		b.WriteString(m.viewWrench())
	case screenReading:
		b.WriteString(m.viewReading())
	}
	return b.String()
}

func (m model) viewEntry() string {
	var b strings.Builder
	b.WriteString("Parameters JSON:\n")
	b.WriteString(m.configInput.View() + "\n\n")
	b.WriteString(helpStyle.Render("Press Enter to connect.") + "\n")
	return b.String()
}

func (m model) viewMenu() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s   Measurement groups: %d\n\n", m.sess.State(), m.sess.Count())
	b.WriteString("1) Enter applied force (fx, fy, fz) and length (x, y, z)\n")
	b.WriteString("2) Take corresponding sensor readings\n")
	b.WriteString("3) Compute calibration matrix\n")
	b.WriteString("4) Write results to file (" + m.sess.OutputPath() + ")\n")
	b.WriteString("5) Exit\n\n")
	if m.busy {
		b.WriteString("Working...\n\n")
	}
	if cal, ok := m.sess.Matrix(); ok {
		b.WriteString(boxStyle.Render("Calibration matrix\n"+strings.TrimRight(forcecal.FormatMatrix(cal), "\n")) + "\n")
		if rep := m.sess.Report(); rep != nil {
			fmt.Fprintf(&b, "Rank %d/%d  RMS error %.3e  max error %.3e\n", rep.Rank, forcecal.Unknowns, rep.RMS, rep.MaxResidual)
			if rep.Deficient() {
				b.WriteString(warnStyle.Render(fmt.Sprintf("Fewer than %d independent measurement groups: the matrix is not fully determined.", forcecal.MinWellPosedSamples)) + "\n")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("Select option.") + "\n")
	return b.String()
}

func (m model) viewWrench() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Applied force") + "\n\n")
	b.WriteString("Force (N):\n")
	b.WriteString(m.forceInput.View() + "\n\n")
	if m.force != nil {
		b.WriteString("Position of the applied force:\n")
		b.WriteString(m.posInput.View() + "\n\n")
	}
	b.WriteString(helpStyle.Render("Three numbers separated by spaces, then Enter. Esc to go back.") + "\n")
	return b.String()
}

func (m model) viewReading() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sensor reading") + "\n\n")
	u := m.progress
	fmt.Fprintf(&b, "Averaging %d/%d\n", u.AvgDone, u.AvgTarget)
	fmt.Fprintf(&b, "Current: % 10.4f % 10.4f % 10.4f\n\n", u.Current.X, u.Current.Y, u.Current.Z)
	b.WriteString(helpStyle.Render("Esc to cancel.") + "\n")
	return b.String()
}

func (m model) updateEntryKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if k.String() == "enter" {
		return m, m.connectCmd(strings.TrimSpace(m.configInput.Value()))
	}
	var cmd tea.Cmd
	m.configInput, cmd = m.configInput.Update(k)
	return m, cmd
}

func (m model) updateMenuKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	ctx := context.Background()
	switch k.String() {
	case "1":
		m.busy = true
		return m, func() tea.Msg {
			if _, err := m.sess.BeginWrench(ctx); err != nil {
				return errMsg{err: err}
			}
			return wrenchPromptMsg{}
		}
	case "2":
		m.stopOp()
		m.runID++
		m.busy = true
		m.scr = screenReading
		m.progress = forcecal.SampleUpdate{}
		m.opCtx, m.opCancel = context.WithCancel(ctx)
		updates := make(chan forcecal.SampleUpdate, 16)
		m.progressCh = updates
		return m, tea.Batch(m.readingCmd(m.opCtx, m.runID, updates), waitProgress(m.runID, updates))
	case "3":
		m.busy = true
		return m, func() tea.Msg {
			res, err := m.sess.Solve(ctx)
			if err != nil {
				return errMsg{err: err}
			}
			return solvedMsg{res: res}
		}
	case "4":
		m.busy = true
		return m, func() tea.Msg {
			res, err := m.sess.Export(ctx, "")
			if err != nil {
				return errMsg{err: err}
			}
			return exportedMsg{path: res.Path}
		}
	case "5", "q":
		m.shutdown()
		return m, tea.Quit
	}
	return m, nil
}

func (m model) updateWrenchKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "esc":
		m.scr = screenMenu
		m.infoLine = "Force entry cancelled"
		return m, nil
	case "enter":
		if m.force == nil {
			vals, err := ui.ParseFloats(m.forceInput.Value(), 3)
			if err != nil {
				m.lastErr = fmt.Errorf("force: %w", err)
				return m, nil
			}
			m.force = vals
			m.lastErr = nil
			m.forceInput.Blur()
			return m, m.posInput.Focus()
		}
		pos, err := ui.ParseFloats(m.posInput.Value(), 3)
		if err != nil {
			m.lastErr = fmt.Errorf("position: %w", err)
			return m, nil
		}
		w := models.WrenchSample{m.force[0], m.force[1], m.force[2], pos[0], pos[1], pos[2]}
		m.busy = true
		return m, func() tea.Msg {
			if _, err := m.sess.SubmitWrench(context.Background(), w); err != nil {
				return errMsg{err: err}
			}
			return wrenchStoredMsg{w: w}
		}
	}
	return m.updateWrenchInputs(k)
}

func (m model) updateWrenchInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.force == nil {
		m.forceInput, cmd = m.forceInput.Update(msg)
	} else {
		m.posInput, cmd = m.posInput.Update(msg)
	}
	return m, cmd
}

func (m *model) stopOp() {
	if m.opCancel != nil {
		m.opCancel()
		m.opCancel = nil
	}
	m.opCtx = nil
}

func (m *model) shutdown() {
	m.stopOp()
	if m.sess != nil {
		_, _ = m.sess.Quit(context.Background())
	}
	if m.dev != nil {
		_ = m.dev.Close()
		m.dev = nil
	}
}

func (m model) connectCmd(path string) tea.Cmd {
	demo := m.demo
	return func() tea.Msg {
		dev, sess, err := connect(path, demo)
		if err != nil {
			return errMsg{err: err}
		}
		return connectedMsg{dev: dev, sess: sess, configPath: path}
	}
}

// readingCmd averages the sensor and closes updates when done, which ends
// the waitProgress chain.
func (m model) readingCmd(ctx context.Context, runID int, updates chan forcecal.SampleUpdate) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		res, err := sess.RecordReading(ctx, func(u forcecal.SampleUpdate) {
			select {
			case updates <- u:
			default:
			}
		})
		close(updates)
		return readingDoneMsg{runID: runID, res: res, err: err}
	}
}

func waitProgress(runID int, updates <-chan forcecal.SampleUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return readingProgressMsg{runID: runID, u: u}
	}
}
