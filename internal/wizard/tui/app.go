package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/fspbuild/internal/config"
	"github.com/muurk/fspbuild/internal/patch/plans"
	"github.com/muurk/fspbuild/internal/ui"
)

// ErrCancelled is returned by Run when the user quits without saving.
var ErrCancelled = errors.New("configuration wizard cancelled")

// Screen is one page of the wizard.
type Screen int

const (
	ScreenArch Screen = iota
	ScreenTarget
	ScreenPlanSet
	ScreenComponents
	ScreenOutput
	ScreenReview
)

var screenTitles = map[Screen]string{
	ScreenArch:       "FSP architecture",
	ScreenTarget:     "Build target",
	ScreenPlanSet:    "Patch plan set",
	ScreenComponents: "Components to patch",
	ScreenOutput:     "Output directory",
	ScreenReview:     "Review",
}

// keyMap defines the wizard key bindings
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Next   key.Binding
	Back   key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Next, k.Back, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.Next, k.Back, k.Quit},
	}
}

func newKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "toggle"),
		),
		Next: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "next"),
		),
		Back: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// choice is a single-select screen.
type choice struct {
	options      []string
	descriptions []string
	cursor       int
}

func (c *choice) selected() string {
	return c.options[c.cursor]
}

func (c *choice) selectValue(v string) {
	for i, o := range c.options {
		if strings.EqualFold(o, v) {
			c.cursor = i
			return
		}
	}
}

// AppModel walks the user through the settings of a new build
// configuration. It edits a copy of the configuration it was created with.
type AppModel struct {
	CurrentScreen Screen

	arch       choice
	target     choice
	planSet    choice
	sets       map[string]*plans.Set
	components []string
	enabled    map[string]bool
	compCursor int
	output     textinput.Model

	cfg       config.BuildConfig
	LastError error

	Confirmed bool
	Cancelled bool

	Width  int
	Height int

	Help help.Model
	Keys keyMap
}

// NewAppModel creates a wizard seeded with cfg and offering the plan sets of
// cat.
func NewAppModel(cfg *config.BuildConfig, cat *plans.Catalog) AppModel {
	m := AppModel{
		CurrentScreen: ScreenArch,
		arch: choice{
			options:      []string{"x64", "ia32"},
			descriptions: []string{"64-bit FSP (FspArch 4)", "32-bit FSP"},
		},
		target: choice{
			options:      []string{"DEBUG", "RELEASE"},
			descriptions: []string{"Debug output and assertions", "Optimised, no debug output"},
		},
		sets:    make(map[string]*plans.Set),
		enabled: make(map[string]bool),
		cfg:     *cfg,
		Help:    help.New(),
		Keys:    newKeyMap(),
	}
	m.arch.selectValue(cfg.Arch)
	m.target.selectValue(cfg.Target())

	for _, name := range cat.Names() {
		set, _ := cat.Get(name)
		m.sets[name] = set
		m.planSet.options = append(m.planSet.options, name)
		m.planSet.descriptions = append(m.planSet.descriptions, set.Description)
	}
	m.planSet.selectValue(cfg.Patch.Set)
	m.syncComponents()
	if len(cfg.Patch.Components) > 0 {
		for _, c := range m.components {
			m.enabled[c] = false
		}
		for _, c := range cfg.Patch.Components {
			m.enabled[strings.ToUpper(c)] = true
		}
	}

	m.output = textinput.New()
	m.output.Placeholder = "BuildFsp"
	m.output.SetValue(cfg.OutputDir)
	m.output.CharLimit = 256
	return m
}

// syncComponents lists the components of the selected plan set, all
// enabled.
func (m *AppModel) syncComponents() {
	m.components = nil
	m.enabled = make(map[string]bool)
	m.compCursor = 0
	if len(m.planSet.options) == 0 {
		return
	}
	if set, ok := m.sets[m.planSet.selected()]; ok {
		for _, c := range set.Components() {
			c = strings.ToUpper(c)
			m.components = append(m.components, c)
			m.enabled[c] = true
		}
	}
}

// Init initializes the wizard
func (m AppModel) Init() tea.Cmd {
	return nil
}

// Update handles all messages and routes them to the active screen
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.Keys.Quit) {
			m.Cancelled = true
			return m, tea.Quit
		}
		if key.Matches(msg, m.Keys.Back) && m.CurrentScreen > ScreenArch {
			return m.transitionTo(m.CurrentScreen - 1)
		}
		return m.updateCurrentScreen(msg)
	}

	if m.CurrentScreen == ScreenOutput {
		var cmd tea.Cmd
		m.output, cmd = m.output.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m AppModel) updateCurrentScreen(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.CurrentScreen {
	case ScreenArch:
		if moveChoice(&m.arch, msg, m.Keys) {
			return m.transitionTo(ScreenTarget)
		}
		return m, nil

	case ScreenTarget:
		if moveChoice(&m.target, msg, m.Keys) {
			return m.transitionTo(ScreenPlanSet)
		}
		return m, nil

	case ScreenPlanSet:
		if len(m.planSet.options) == 0 {
			m.LastError = errors.New("the plan catalog has no sets")
			return m, nil
		}
		next := moveChoice(&m.planSet, msg, m.Keys)
		if set := m.planSet.selected(); set != m.cfg.Patch.Set {
			m.cfg.Patch.Set = set
			m.syncComponents()
		}
		if next {
			return m.transitionTo(ScreenComponents)
		}
		return m, nil

	case ScreenComponents:
		switch {
		case key.Matches(msg, m.Keys.Up):
			if m.compCursor > 0 {
				m.compCursor--
			}
		case key.Matches(msg, m.Keys.Down):
			if m.compCursor < len(m.components)-1 {
				m.compCursor++
			}
		case key.Matches(msg, m.Keys.Toggle):
			if len(m.components) > 0 {
				c := m.components[m.compCursor]
				m.enabled[c] = !m.enabled[c]
			}
		case key.Matches(msg, m.Keys.Next):
			if len(m.selectedComponents()) == 0 {
				m.LastError = errors.New("select at least one component")
				return m, nil
			}
			return m.transitionTo(ScreenOutput)
		}
		return m, nil

	case ScreenOutput:
		if key.Matches(msg, m.Keys.Next) {
			if strings.TrimSpace(m.output.Value()) == "" {
				m.LastError = errors.New("output directory must not be empty")
				return m, nil
			}
			return m.transitionTo(ScreenReview)
		}
		var cmd tea.Cmd
		m.output, cmd = m.output.Update(msg)
		return m, cmd

	case ScreenReview:
		if key.Matches(msg, m.Keys.Next) {
			m.Confirmed = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// moveChoice moves the cursor of c and reports whether the user confirmed
// the selection.
func moveChoice(c *choice, msg tea.KeyMsg, keys keyMap) bool {
	switch {
	case key.Matches(msg, keys.Up):
		if c.cursor > 0 {
			c.cursor--
		}
	case key.Matches(msg, keys.Down):
		if c.cursor < len(c.options)-1 {
			c.cursor++
		}
	case key.Matches(msg, keys.Next):
		return true
	}
	return false
}

// transitionTo moves to screen, focusing the text input on the output
// screen.
func (m AppModel) transitionTo(screen Screen) (tea.Model, tea.Cmd) {
	m.LastError = nil
	m.CurrentScreen = screen
	if screen == ScreenOutput {
		return m, m.output.Focus()
	}
	m.output.Blur()
	return m, nil
}

func (m AppModel) selectedComponents() []string {
	var out []string
	for _, c := range m.components {
		if m.enabled[c] {
			out = append(out, c)
		}
	}
	return out
}

// Config returns the configuration with the wizard's choices applied.
func (m AppModel) Config() *config.BuildConfig {
	cfg := m.cfg
	cfg.Arch = m.arch.selected()
	cfg.Release = m.target.selected() == "RELEASE"
	if len(m.planSet.options) > 0 {
		cfg.Patch.Set = m.planSet.selected()
	}
	cfg.Patch.Components = m.selectedComponents()
	if out := strings.TrimSpace(m.output.Value()); out != "" {
		cfg.OutputDir = out
	}
	return &cfg
}

// View renders the active screen
func (m AppModel) View() string {
	if m.Confirmed || m.Cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(ui.HeaderTitleStyle.Render("FSPBUILD INIT"))
	b.WriteString("\n")
	b.WriteString(ui.HeaderCommandStyle.Render(fmt.Sprintf("Step %d of %d: %s", m.CurrentScreen+1, ScreenReview+1, screenTitles[m.CurrentScreen])))
	b.WriteString("\n\n")

	switch m.CurrentScreen {
	case ScreenArch:
		b.WriteString(renderChoice(m.arch))
	case ScreenTarget:
		b.WriteString(renderChoice(m.target))
	case ScreenPlanSet:
		b.WriteString(renderChoice(m.planSet))
	case ScreenComponents:
		b.WriteString(m.renderComponents())
	case ScreenOutput:
		b.WriteString("  Artifacts are copied here, relative to the workspace:\n\n  ")
		b.WriteString(m.output.View())
		b.WriteString("\n")
	case ScreenReview:
		b.WriteString(m.renderReview())
	}

	if m.LastError != nil {
		b.WriteString("\n")
		b.WriteString(ui.ErrorTitleStyle.Render("  " + ui.FailureMarker + " " + m.LastError.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.Help.View(m.Keys))
	return b.String()
}

func renderChoice(c choice) string {
	var b strings.Builder
	for i, o := range c.options {
		cursor, style := "  ", ui.StepPendingStyle
		if i == c.cursor {
			cursor, style = "> ", ui.StepRunningStyle
		}
		line := cursor + style.Render(o)
		if i < len(c.descriptions) && c.descriptions[i] != "" {
			line += "  " + ui.StepNoteStyle.Render(c.descriptions[i])
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m AppModel) renderComponents() string {
	var b strings.Builder
	for i, c := range m.components {
		cursor := "  "
		if i == m.compCursor {
			cursor = "> "
		}
		box := "[ ]"
		style := ui.StepPendingStyle
		if m.enabled[c] {
			box = "[" + ui.StepMarkerComplete + "]"
			style = ui.StepCompleteStyle
		}
		b.WriteString(cursor + style.Render(box+" "+config.Volume(c)) + "\n")
	}
	return b.String()
}

func (m AppModel) renderReview() string {
	cfg := m.Config()
	rows := [][2]string{
		{"Arch", cfg.Arch},
		{"Target", cfg.Target()},
		{"Plan set", cfg.Patch.Set},
		{"Components", strings.Join(cfg.Patch.Components, " ")},
		{"Output", cfg.OutputDir},
	}
	var lines []string
	for _, r := range rows {
		lines = append(lines, ui.ResultKeyStyle.Render(fmt.Sprintf("%-12s", r[0]+":"))+" "+ui.ResultValueStyle.Render(r[1]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n\n  Press enter to write the configuration.\n"
}

// Run shows the wizard on in/out and returns the chosen configuration.
func Run(cfg *config.BuildConfig, cat *plans.Catalog, in io.Reader, out io.Writer) (*config.BuildConfig, error) {
	p := tea.NewProgram(NewAppModel(cfg, cat), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("wizard failed: %w", err)
	}
	m := final.(AppModel)
	if !m.Confirmed {
		return nil, ErrCancelled
	}
	return m.Config(), nil
}
