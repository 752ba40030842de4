package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/engine"
)

const (
	frameRate    = time.Second / 30
	graphWidth   = 72
	graphHeight  = 12
	windowSecs   = 20.0
	sparkWidth   = 30
	gaugeWidth   = 20
	tuneUpFactor = 1.05
	tuneDnFactor = 0.95
)

type TickMsg time.Time

// param is one tunable shown in the side panel.
type param struct {
	name string
	step float64
	get  func(c *config.Config) float64
	set  func(e *engine.Engine, v float64) error
}

var params = []param{
	{"kp", 0.05,
		func(c *config.Config) float64 { return c.Kp },
		func(e *engine.Engine, v float64) error { return e.SetGain(dynamo.Proportional, v) }},
	{"kd", 0.005,
		func(c *config.Config) float64 { return c.Kd },
		func(e *engine.Engine, v float64) error { return e.SetGain(dynamo.Derivative, v) }},
	{"reference", 5,
		func(c *config.Config) float64 { return c.Reference },
		(*engine.Engine).SetReference},
	{"input_voltage", 5,
		func(c *config.Config) float64 { return c.InputVoltage },
		(*engine.Engine).SetInputVoltage},
}

// Model renders a running engine. All reads go through the engine's
// snapshot queries so the loop is never blocked for long.
type Model struct {
	eng      *engine.Engine
	theme    Theme
	st       styles
	selected int
	showHelp bool

	samples []dynamo.Sample
	cfg     *config.Config
	status  dynamo.FaultStatus
	paused  bool
	pending []string
	lastErr error
}

// NewModel builds a model over e using the named theme.
func NewModel(e *engine.Engine, theme string) Model {
	t := GetTheme(theme)
	m := Model{eng: e, theme: t, st: newStyles(t)}
	m.poll()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(frameRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

// Update maps keys onto engine commands and refreshes the snapshot on
// every frame.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.eng.TogglePause()
		case "r":
			m.eng.Reset()
			m.lastErr = nil
		case "i":
			m.lastErr = m.eng.TriggerDisturbance(dynamo.Inductive)
		case "e":
			m.lastErr = m.eng.TriggerDisturbance(dynamo.Electromagnetic)
		case "tab":
			m.selected = (m.selected + 1) % len(params)
		case "up", "k":
			m.adjust(tuneUpFactor, 1)
		case "down", "j":
			m.adjust(tuneDnFactor, -1)
		case "t":
			m.theme = NextTheme(m.theme)
			m.st = newStyles(m.theme)
		case "?":
			m.showHelp = !m.showHelp
		}
		m.poll()
	case TickMsg:
		m.poll()
		return m, tick()
	}
	return m, nil
}

func (m *Model) poll() {
	m.samples = m.eng.HistoryWindow(dynamo.LastSeconds(windowSecs))
	m.cfg = m.eng.ConfigSnapshot()
	m.status = m.eng.FaultStatus()
	m.paused = m.eng.Paused()
	m.pending = nil
	for _, k := range dynamo.DisturbanceKinds {
		if m.eng.DisturbancePending(k) {
			m.pending = append(m.pending, k.String())
		}
	}
}

// adjust scales the selected parameter from the engine's current value,
// not the last polled one. Zero values move by a fixed step since scaling
// cannot leave zero.
func (m *Model) adjust(factor float64, dir float64) {
	p := params[m.selected]
	v := p.get(m.eng.ConfigSnapshot())
	next := v * factor
	if v == 0 {
		next = dir * p.step
	}
	m.lastErr = p.set(m.eng, next)
}

func (m Model) statusLine() string {
	switch {
	case m.status.Tripped():
		return m.st.fault.Render("TRIPPED: " + strings.ToUpper(m.status.Reason.String()))
	case m.paused:
		return m.st.paused.Render("PAUSED")
	default:
		return m.st.normal.Render("NORMAL")
	}
}

func (m Model) graphs() string {
	if len(m.samples) < 2 {
		return m.st.graph.Render("waiting for samples...")
	}
	output := make([]float64, len(m.samples))
	ref := make([]float64, len(m.samples))
	errs := make([]float64, len(m.samples))
	for i, s := range m.samples {
		output[i], ref[i], errs[i] = s.Output, s.Reference, s.Error
	}

	volts := asciigraph.PlotMany([][]float64{ref, output},
		asciigraph.Height(graphHeight),
		asciigraph.Width(graphWidth),
		asciigraph.Precision(1),
		asciigraph.SeriesColors(asciigraph.Gray, asciigraph.Cyan),
		asciigraph.Caption(fmt.Sprintf("output vs reference (last %.0fs)", windowSecs)))
	errGraph := asciigraph.Plot(errs,
		asciigraph.Height(graphHeight/2),
		asciigraph.Width(graphWidth),
		asciigraph.Precision(2),
		asciigraph.Caption("error"))

	return m.st.graph.Render(volts + "\n\n" + errGraph)
}

func (m Model) panel() string {
	var s strings.Builder
	s.WriteString(m.st.header.Render("VOLTAGE STABILIZER") + "\n")
	s.WriteString(m.statusLine() + "\n\n")

	row := func(label, value string) {
		s.WriteString(m.st.label.Render(label) + m.st.value.Render(value) + "\n")
	}
	if n := len(m.samples); n > 0 {
		last := m.samples[n-1]
		row("Time", fmt.Sprintf("%.1fs", last.T))
		row("Output", fmt.Sprintf("%.2f V", last.Output))
		row("Measured", fmt.Sprintf("%.2f V", last.Measured))
		row("Error", fmt.Sprintf("%+.2f V", last.Error))
		row("Control", fmt.Sprintf("%+.3f", last.Control))

		if m.cfg.Protection.TripMode == dynamo.TripEnergy {
			frac := last.FaultEnergy / m.cfg.Protection.FuseEnergy
			row("Fuse", ProgressBar(frac, gaugeWidth))
		}

		control := make([]float64, n)
		for i, smp := range m.samples {
			control[i] = smp.Control
		}
		row("Effort", Sparkline(control, sparkWidth))
	}
	if len(m.pending) > 0 {
		row("Pending", strings.Join(m.pending, ", "))
	}
	row("Mode", fmt.Sprintf("%s / %s", m.cfg.Mode, m.cfg.Policy))
	row("Trip band", fmt.Sprintf("±%.1f V", m.cfg.Threshold()))

	s.WriteString("\nPARAMETERS\n")
	for i, p := range params {
		line := fmt.Sprintf("%-14s %.4g", p.name, p.get(m.cfg))
		if i == m.selected {
			s.WriteString(m.st.active.Render("> "+line) + "\n")
		} else {
			s.WriteString("  " + m.st.value.Render(line) + "\n")
		}
	}
	if m.lastErr != nil {
		s.WriteString("\n" + m.st.fault.Render(m.lastErr.Error()) + "\n")
	}
	s.WriteString(m.st.help.Render("SP:Pause R:Reset I/E:Disturb\nTab:Select ↑↓:Tune T:Theme ?:Help Q:Quit"))
	return m.st.panel.Render(s.String())
}

func (m Model) View() string {
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.graphs(), m.panel())
	if !m.showHelp {
		return main
	}
	return `
╔══════════════════════════════════════╗
║          KEYBOARD SHORTCUTS          ║
╠══════════════════════════════════════╣
║  Space  - Pause/Resume               ║
║  R      - Reset protection latch     ║
║  I      - Inductive disturbance      ║
║  E      - Electromagnetic disturbance║
║  Tab    - Select parameter           ║
║  Up/K   - Raise parameter (+5%)      ║
║  Down/J - Lower parameter (-5%)      ║
║  T      - Cycle themes               ║
║  ?      - Toggle this help           ║
║  Q      - Quit                       ║
╚══════════════════════════════════════╝
` + "\n" + main
}
