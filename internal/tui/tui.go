// Package tui provides the pantryat status screen: pantry items next to the
// sync queue state, with an offline recipe search.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pantryat/backend"
	syncer "pantryat/backend/sync"
)

// Pantry lists pantry items.
type Pantry interface {
	ListItems(ctx context.Context) ([]backend.Item, error)
}

// Queue is the sync coordinator as seen by the status screen.
type Queue interface {
	Status() syncer.Status
	Drain(ctx context.Context) syncer.DrainResult
	ClearQueue(ctx context.Context)
}

// Network reports the connectivity state.
type Network interface {
	Online() bool
}

// Recipes searches recipes, falling back to the local cache when offline.
type Recipes interface {
	Search(ctx context.Context, query string) ([]backend.Recipe, error)
}

// Options wires the screen. Queue and Recipes may be nil.
type Options struct {
	Pantry          Pantry
	Queue           Queue
	Network         Network
	Recipes         Recipes
	LowStockDefault float64
	RefreshInterval time.Duration
	Now             func() time.Time
}

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeHelp
	ModeConfirmClear
)

// Model represents the TUI state
type Model struct {
	opts Options
	ctx  context.Context

	items   []backend.Item
	cursor  int
	status  syncer.Status
	online  bool
	syncing bool
	lastRun *syncer.DrainResult

	query   string
	results []backend.Recipe

	mode      Mode
	textInput textinput.Model
	spinner   spinner.Model
	err       error

	width  int
	height int

	paneStyle     lipgloss.Style
	selectedStyle lipgloss.Style
	warnStyle     lipgloss.Style
	okStyle       lipgloss.Style
	helpStyle     lipgloss.Style
	dialogStyle   lipgloss.Style
	statusStyle   lipgloss.Style
}

type itemsLoadedMsg struct{ items []backend.Item }

type statusMsg struct {
	status syncer.Status
	online bool
}

type drainDoneMsg struct{ res syncer.DrainResult }

type searchDoneMsg struct {
	query   string
	results []backend.Recipe
}

type tickMsg struct{}

type errMsg struct{ err error }

// New creates a new TUI model
func New(ctx context.Context, opts Options) *Model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LowStockDefault == 0 {
		opts.LowStockDefault = backend.DefaultLowStockThreshold
	}

	ti := textinput.New()
	ti.Placeholder = "Search recipes..."
	ti.CharLimit = 128

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		opts:      opts,
		ctx:       ctx,
		textInput: ti,
		spinner:   sp,
		paneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		warnStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		okStyle:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		helpStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
	}
}

// Mode returns the current input mode.
func (m *Model) Mode() Mode { return m.mode }

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadItems(), m.loadStatus(), m.tick(), m.spinner.Tick)
}

func (m *Model) loadItems() tea.Cmd {
	return func() tea.Msg {
		items, err := m.opts.Pantry.ListItems(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return itemsLoadedMsg{items}
	}
}

func (m *Model) loadStatus() tea.Cmd {
	return func() tea.Msg {
		msg := statusMsg{}
		if m.opts.Queue != nil {
			msg.status = m.opts.Queue.Status()
		}
		if m.opts.Network != nil {
			msg.online = m.opts.Network.Online()
		}
		return msg
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *Model) drain() tea.Cmd {
	return func() tea.Msg {
		return drainDoneMsg{m.opts.Queue.Drain(m.ctx)}
	}
}

func (m *Model) search(query string) tea.Cmd {
	return func() tea.Msg {
		results, err := m.opts.Recipes.Search(m.ctx, query)
		if err != nil {
			return errMsg{err}
		}
		return searchDoneMsg{query, results}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case itemsLoadedMsg:
		m.items = msg.items
		if m.cursor >= len(m.items) {
			m.cursor = 0
		}
		return m, nil

	case statusMsg:
		m.status = msg.status
		m.online = msg.online
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadStatus(), m.tick())

	case drainDoneMsg:
		m.syncing = false
		res := msg.res
		m.lastRun = &res
		return m, m.loadStatus()

	case searchDoneMsg:
		m.query = msg.query
		m.results = msg.results
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeSearch:
			return m.handleSearchMode(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		case ModeConfirmClear:
			return m.handleConfirmClearMode(msg)
		}
		return m.handleNormalMode(msg)
	}

	return m, nil
}

func (m *Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "r":
		return m, tea.Batch(m.loadItems(), m.loadStatus())

	case "s":
		if m.opts.Queue == nil || m.syncing {
			return m, nil
		}
		if !m.online {
			m.err = fmt.Errorf("offline: pending changes stay queued")
			return m, nil
		}
		m.syncing = true
		m.err = nil
		return m, m.drain()

	case "c":
		if m.opts.Queue != nil && m.status.Pending > 0 {
			m.mode = ModeConfirmClear
		}

	case "/":
		if m.opts.Recipes == nil {
			return m, nil
		}
		m.mode = ModeSearch
		m.textInput.Reset()
		m.textInput.Focus()
		return m, textinput.Blink

	case "esc":
		m.query = ""
		m.results = nil

	case "?":
		m.mode = ModeHelp
	}
	return m, nil
}

func (m *Model) handleSearchMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = ModeNormal
		m.textInput.Blur()
		if q := strings.TrimSpace(m.textInput.Value()); q != "" {
			return m, m.search(q)
		}
		return m, nil
	case tea.KeyEsc:
		m.mode = ModeNormal
		m.textInput.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmClearMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		m.opts.Queue.ClearQueue(m.ctx)
		return m, m.loadStatus()
	case "n", "N", "esc":
		m.mode = ModeNormal
	}
	return m, nil
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	switch m.mode {
	case ModeSearch:
		return m.centerDialog(m.dialogStyle.Render(
			"Recipe Search\n\n" + m.textInput.View() + "\n\n" +
				m.helpStyle.Render("Enter: search  Esc: cancel")))
	case ModeHelp:
		return m.centerDialog(m.dialogStyle.Render(helpText))
	case ModeConfirmClear:
		return m.centerDialog(m.dialogStyle.Render(
			fmt.Sprintf("Discard %d pending changes?\n\n", m.status.Pending) +
				m.helpStyle.Render("y: yes  n: no")))
	}

	leftWidth := m.width * 3 / 5
	rightWidth := m.width - leftWidth - 4
	paneHeight := m.height - 4

	left := m.renderItems(leftWidth - 4)
	if m.results != nil || m.query != "" {
		left = m.renderResults(leftWidth - 4)
	}
	leftPane := m.paneStyle.Width(leftWidth).Height(paneHeight).Render(left)
	rightPane := m.paneStyle.Width(rightWidth).Height(paneHeight).Render(m.renderSync(rightWidth - 4))

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane) + "\n" + m.renderStatusBar()
}

func (m *Model) renderItems(width int) string {
	var b strings.Builder
	b.WriteString("Pantry\n")
	b.WriteString(strings.Repeat("─", max(width, 1)))
	b.WriteString("\n")

	if len(m.items) == 0 {
		b.WriteString("No items\n")
		return b.String()
	}

	now := m.opts.Now()
	for i, it := range m.items {
		cursor := " "
		name := it.Name
		if i == m.cursor {
			cursor = ">"
			name = m.selectedStyle.Render(name)
		}
		line := fmt.Sprintf("%s %s  %g %s", cursor, name, it.Quantity, it.Unit)
		var flags []string
		if backend.IsLow(it, m.opts.LowStockDefault) {
			flags = append(flags, "low")
		}
		if it.ExpiresAt != nil {
			switch days := int(it.ExpiresAt.Sub(now).Hours() / 24); {
			case it.ExpiresAt.Before(now):
				flags = append(flags, "expired")
			case days <= 3:
				flags = append(flags, fmt.Sprintf("expires in %dd", days))
			}
		}
		if len(flags) > 0 {
			line += "  " + m.warnStyle.Render("["+strings.Join(flags, ", ")+"]")
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return b.String()
}

func (m *Model) renderResults(width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recipes: %s\n", m.query)
	b.WriteString(strings.Repeat("─", max(width, 1)))
	b.WriteString("\n")
	if len(m.results) == 0 {
		b.WriteString("No recipes found\n")
		return b.String()
	}
	for _, r := range m.results {
		missing := backend.MissingIngredients(r, m.items)
		fmt.Fprintf(&b, "  %s  (%d missing)\n", r.Title, len(missing))
	}
	return b.String()
}

func (m *Model) renderSync(width int) string {
	var b strings.Builder
	b.WriteString("Sync\n")
	b.WriteString(strings.Repeat("─", max(width, 1)))
	b.WriteString("\n")

	if m.online {
		b.WriteString(m.okStyle.Render("● online") + "\n")
	} else {
		b.WriteString(m.warnStyle.Render("○ offline") + "\n")
	}

	if m.opts.Queue == nil {
		b.WriteString("Sync disabled\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Pending: %d\n", m.status.Pending)
	if m.syncing || m.status.InProgress {
		b.WriteString(m.spinner.View() + " syncing\n")
	}
	fmt.Fprintf(&b, "Synced:  %d\n", m.status.Synced)
	fmt.Fprintf(&b, "Dropped: %d\n", m.status.Dropped)
	if m.status.LastDrainAt != nil {
		fmt.Fprintf(&b, "Last:    %s\n", m.status.LastDrainAt.Local().Format("15:04:05"))
	}
	if m.lastRun != nil {
		fmt.Fprintf(&b, "Run:     %d sent, %d failed\n", m.lastRun.Synced, m.lastRun.Failed)
	}
	if m.status.LastError != "" {
		b.WriteString(m.warnStyle.Render("Error: "+m.status.LastError) + "\n")
	}
	return b.String()
}

func (m *Model) renderStatusBar() string {
	left := ""
	if m.err != nil {
		left = m.err.Error()
	}
	right := "s:sync  c:clear  /:search  q:quit  ?:help"
	padding := max(m.width-len(left)-len(right)-2, 1)
	return m.statusStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

const helpText = `Help - Key Bindings

  j/↓    Move down
  k/↑    Move up
  s      Sync pending changes now
  c      Clear the pending queue (with confirm)
  /      Search recipes (cached recipes when offline)
  Esc    Back to the pantry list
  r      Reload
  ?      Show this help
  q      Quit

Press any key to close`

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogWidth := 0
	for _, line := range lines {
		dialogWidth = max(dialogWidth, lipgloss.Width(line))
	}

	topPad := max((m.height-len(lines))/2, 0)
	leftPad := max((m.width-dialogWidth)/2, 0)

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", topPad))
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
