// Package ui provides an interactive browser for a running object runtime:
// its registered classes with live object counts, and its loaded plugins.
package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"

	"github.com/dgnsrekt/speect-go/internal/pluginmanager"
	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// clipboard writers; OSC 52 reaches the terminal's clipboard, also over ssh
var (
	copyToTerminal = termenv.Copy
	clipboardWrite = clipboard.WriteAll
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "released"
	ellipsis             = "…"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#5A56E0")).Padding(0, 1)
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

// NewProgram returns a new Tea program browsing reg and plugins.
func NewProgram(cfg Config, reg *objsys.Registry, plugins *pluginmanager.Manager) *tea.Program {
	log.Debug("Starting browser", "refresh", cfg.Refresh)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, reg, plugins), opts...)
}

// Run runs the browser until the user quits. Objects created from the
// browser are released before it returns.
func Run(cfg Config, reg *objsys.Registry, plugins *pluginmanager.Manager) error {
	final, err := NewProgram(cfg, reg, plugins).Run()
	if m, ok := final.(model); ok {
		if rerr := m.releaseAll(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	if err != nil {
		return fmt.Errorf("unable to run browser: %w", err)
	}
	return nil
}

// view is the table currently shown.
type view int

const (
	viewClasses view = iota
	viewPlugins
)

func (v view) String() string {
	return map[view]string{
		viewClasses: "classes",
		viewPlugins: "plugins",
	}[v]
}

type (
	tickMsg                 time.Time
	statusMessageTimeoutMsg int
)

type model struct {
	cfg     Config
	reg     *objsys.Registry
	plugins *pluginmanager.Manager

	view    view
	classes table.Model
	loaded  table.Model
	help    help.Model
	width   int
	height  int

	// objects created from the browser, by class name
	held map[string][]*objsys.Object

	status    string
	statusErr bool
	statusID  int
}

func newModel(cfg Config, reg *objsys.Registry, plugins *pluginmanager.Manager) model {
	if cfg.Refresh <= 0 {
		cfg.Refresh = time.Second
	}

	m := model{
		cfg:     cfg,
		reg:     reg,
		plugins: plugins,
		classes: table.New(table.WithFocused(true)),
		loaded:  table.New(table.WithFocused(true)),
		help:    help.New(),
		width:   80,
		height:  24,
		held:    make(map[string][]*objsys.Object),
	}
	m.resize()
	m.refresh()
	return m
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tick(m.cfg.Refresh)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick(m.cfg.Refresh)

	case statusMessageTimeoutMsg:
		if int(msg) == m.statusID {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if err := m.releaseAll(); err != nil {
				log.Warn("failed to release objects", "error", err)
			}
			return m, tea.Quit

		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()
			return m, nil

		case key.Matches(msg, keys.Switch):
			if m.view == viewClasses {
				m.view = viewPlugins
			} else {
				m.view = viewClasses
			}
			return m, nil

		case key.Matches(msg, keys.New) && m.view == viewClasses:
			return m, m.newObject()

		case key.Matches(msg, keys.Release) && m.view == viewClasses:
			return m, m.releaseObject()

		case key.Matches(msg, keys.Copy) && m.view == viewClasses:
			return m, m.copyInheritance()
		}
	}

	var cmd tea.Cmd
	if m.view == viewClasses {
		m.classes, cmd = m.classes.Update(msg)
	} else {
		m.loaded, cmd = m.loaded.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("speect"))
	b.WriteString(" ")
	b.WriteString(subtleStyle.Render(m.view.String() + " • " + m.reg.Stats().String()))
	b.WriteString("\n\n")

	if m.view == viewClasses {
		b.WriteString(m.classes.View())
	} else {
		b.WriteString(m.loaded.View())
	}
	b.WriteString("\n")

	switch {
	case m.status == "":
		b.WriteString("\n")
	case m.statusErr:
		b.WriteString(errStyle.Render(truncateStatus(m.status, m.width)) + "\n")
	default:
		b.WriteString(okStyle.Render(truncateStatus(m.status, m.width)) + "\n")
	}

	b.WriteString(m.help.View(keys))
	return b.String()
}

// selectedClass returns the class name of the selected row.
func (m model) selectedClass() (string, bool) {
	row := m.classes.SelectedRow()
	if len(row) == 0 {
		return "", false
	}
	return row[0], true
}

func (m *model) newObject() tea.Cmd {
	name, ok := m.selectedClass()
	if !ok {
		return nil
	}

	obj, err := m.reg.New(name)
	if err != nil {
		return m.setStatus(err.Error(), true)
	}
	m.held[name] = append(m.held[name], obj)
	m.refresh()
	return m.setStatus("created "+obj.String(), false)
}

func (m *model) releaseObject() tea.Cmd {
	name, ok := m.selectedClass()
	if !ok {
		return nil
	}

	objs := m.held[name]
	if len(objs) == 0 {
		return m.setStatus(fmt.Sprintf("no %s created here", name), true)
	}
	obj := objs[len(objs)-1]
	m.held[name] = objs[:len(objs)-1]

	desc := obj.String()
	err := obj.Release()
	m.refresh()
	if err != nil {
		return m.setStatus(err.Error(), true)
	}
	return m.setStatus("released "+desc, false)
}

// copyInheritance copies the inheritance chain of the selected class.
func (m *model) copyInheritance() tea.Cmd {
	name, ok := m.selectedClass()
	if !ok {
		return nil
	}
	cls, ok := m.reg.Lookup(name)
	if !ok {
		return m.setStatus(fmt.Sprintf("%s is no longer registered", name), true)
	}

	chain := cls.Inheritance()
	copyToTerminal(chain)
	if err := clipboardWrite(chain); err != nil {
		log.Debug("native clipboard unavailable", "error", err)
	}
	return m.setStatus("copied "+chain, false)
}

func (m *model) releaseAll() error {
	var errs []error
	for name, objs := range m.held {
		for _, obj := range objs {
			if err := obj.Release(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(m.held, name)
	}
	return errors.Join(errs...)
}

func (m *model) setStatus(msg string, isErr bool) tea.Cmd {
	m.status = msg
	m.statusErr = isErr
	m.statusID++
	id := m.statusID
	return tea.Tick(statusMessageTimeout, func(time.Time) tea.Msg {
		return statusMessageTimeoutMsg(id)
	})
}

func (m *model) resize() {
	// title, blank line, status line and help
	chrome := 4
	if m.help.ShowAll {
		chrome += 2
	}
	h := max(m.height-chrome, 3)
	m.classes.SetHeight(h)
	m.loaded.SetHeight(h)
	m.classes.SetWidth(m.width)
	m.loaded.SetWidth(m.width)
	m.help.Width = m.width
}

// refresh rebuilds both tables from the registry and plugin manager.
func (m *model) refresh() {
	names := m.reg.Names()
	rows := make([]table.Row, 0, len(names))
	nameWidth := runewidth.StringWidth("Class")
	for _, name := range names {
		cls, ok := m.reg.Lookup(name)
		if !ok {
			continue
		}
		nameWidth = max(nameWidth, runewidth.StringWidth(name))
		rows = append(rows, table.Row{
			name,
			cls.Version.String(),
			humanize.Bytes(uint64(cls.Size)),
			fmt.Sprint(m.reg.Live(name)),
			strings.Join(cls.Ancestry(), " → "),
		})
	}

	fixed := nameWidth + 8 + 9 + 6
	m.classes.SetColumns([]table.Column{
		{Title: "Class", Width: nameWidth},
		{Title: "Version", Width: 8},
		{Title: "Size", Width: 9},
		{Title: "Live", Width: 6},
		{Title: "Inheritance", Width: max(m.width-fixed-10, 12)},
	})
	m.classes.SetRows(rows)

	loaded := m.plugins.Plugins()
	prows := make([]table.Row, 0, len(loaded))
	for _, p := range loaded {
		prows = append(prows, table.Row{
			p.Name(),
			p.Version().String(),
			fmt.Sprint(m.plugins.Loads(p)),
			strings.Join(p.Classes(), ", "),
			humanize.Time(p.LoadedAt()),
		})
	}
	m.loaded.SetColumns([]table.Column{
		{Title: "Plugin", Width: 16},
		{Title: "Version", Width: 8},
		{Title: "Loads", Width: 5},
		{Title: "Classes", Width: max(m.width-16-8-5-16-10, 12)},
		{Title: "Loaded", Width: 16},
	})
	m.loaded.SetRows(prows)
}

func truncateStatus(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return truncate.StringWithTail(s, uint(width), ellipsis) //nolint:gosec
}
