// Package tui provides the interactive terminal dashboard for TaskDesk.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taskdesk/internal/models"
	"taskdesk/internal/state"
)

// refreshInterval matches the cadence of the browser dashboard this
// replaces.
const refreshInterval = 30 * time.Second

var (
	primaryColor = lipgloss.Color("#2563EB")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().Padding(0, 1)

	searchBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
)

var statusFilters = []string{"", "new", "in-progress", "done", "returned-for-completion", "cancelled", "expired"}
var statusFilterNames = []string{"ALL", "NEW", "IN PROGRESS", "DONE", "RETURNED", "CANCELLED", "EXPIRED"}

// tabActive and tabCompleted partition tasks the way the dashboard
// cards did: done and cancelled are "completed", everything else is
// "active".
const (
	tabActive = iota
	tabCompleted
)

// App is the dashboard model.
type App struct {
	client      *Client
	state       *state.Manager
	tasks       []*models.Task
	visible     []*models.Task
	selectedIdx int
	search      textinput.Model
	searching   bool
	tab         int
	filterIdx   int
	mode        string // "list" or "detail"
	current     *models.Task
	message     string
	loading     bool
	width       int
	height      int
}

// New creates the dashboard against the given API address and token.
func New(apiAddr, token string) *App {
	ti := textinput.New()
	ti.Placeholder = "search title, assignee, category..."
	ti.CharLimit = 128
	ti.Width = 50

	st := state.New()
	st.DefineComputed("activeTasksCount", func(raw map[string]any) any {
		return countTasks(raw, func(t *models.Task) bool { return t.IsActive() })
	})
	st.DefineComputed("completedTasksCount", func(raw map[string]any) any {
		return countTasks(raw, func(t *models.Task) bool { return !t.IsActive() })
	})
	st.DefineComputed("newTasksCount", func(raw map[string]any) any {
		return countTasks(raw, func(t *models.Task) bool { return t.Status == models.TaskStatusNew })
	})
	st.DefineComputed("urgentTasksCount", func(raw map[string]any) any {
		return countTasks(raw, func(t *models.Task) bool {
			return t.IsActive() && t.Priority != models.PriorityNormal
		})
	})

	return &App{
		client: NewClient(apiAddr, token),
		state:  st,
		search: ti,
		mode:   "list",
	}
}

func countTasks(raw map[string]any, pred func(*models.Task) bool) int {
	tasks, _ := raw["tasks"].([]*models.Task)
	n := 0
	for _, t := range tasks {
		if pred(t) {
			n++
		}
	}
	return n
}

// Run starts the dashboard.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetchTasks(), a.tick())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.searching {
			switch msg.String() {
			case "esc":
				a.searching = false
				a.search.Blur()
				a.search.SetValue("")
				a.applyFilters()
				return a, nil
			case "enter":
				a.searching = false
				a.search.Blur()
				return a, nil
			default:
				var cmd tea.Cmd
				a.search, cmd = a.search.Update(msg)
				a.applyFilters()
				return a, cmd
			}
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" {
				a.mode = "list"
				a.current = nil
			}

		case "up", "k":
			if a.selectedIdx > 0 {
				a.selectedIdx--
			}

		case "down", "j":
			if a.selectedIdx < len(a.visible)-1 {
				a.selectedIdx++
			}

		case "tab":
			a.tab = (a.tab + 1) % 2
			a.selectedIdx = 0
			a.applyFilters()

		case "f":
			a.filterIdx = (a.filterIdx + 1) % len(statusFilters)
			a.selectedIdx = 0
			a.applyFilters()

		case "/":
			a.searching = true
			a.search.Focus()
			return a, textinput.Blink

		case "r":
			return a, a.fetchTasks()

		case "enter":
			if a.mode == "list" && len(a.visible) > 0 {
				a.mode = "detail"
				a.current = a.visible[a.selectedIdx]
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		a.state.Set("tasks", msg.tasks, false)
		a.applyFilters()

	case refreshTickMsg:
		return a, tea.Batch(a.fetchTasks(), a.tick())

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	return a, nil
}

// applyFilters recomputes the visible slice from tab, status filter and
// search text.
func (a *App) applyFilters() {
	needle := strings.ToLower(strings.TrimSpace(a.search.Value()))
	status := statusFilters[a.filterIdx]

	visible := make([]*models.Task, 0, len(a.tasks))
	for _, t := range a.tasks {
		if a.tab == tabActive && !t.IsActive() {
			continue
		}
		if a.tab == tabCompleted && t.IsActive() {
			continue
		}
		if status != "" && string(t.Status) != status {
			continue
		}
		if needle != "" && !matchesSearch(t, needle) {
			continue
		}
		visible = append(visible, t)
	}
	a.visible = visible
	if a.selectedIdx >= len(visible) {
		a.selectedIdx = maxInt(0, len(visible)-1)
	}
}

func matchesSearch(t *models.Task, needle string) bool {
	for _, hay := range []string{t.Title, t.AssignedTo, string(t.Category), t.Description} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("TaskDesk Dashboard")
	counts := fmt.Sprintf(" active: %v | completed: %v | new: %v | urgent: %v",
		a.state.Get("activeTasksCount"),
		a.state.Get("completedTasksCount"),
		a.state.Get("newTasksCount"),
		a.state.Get("urgentTasksCount"))
	header += lipgloss.NewStyle().Foreground(mutedColor).Render(counts)
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("-", maxInt(a.width, 20)) + "\n")

	tabs := "[ ACTIVE ]  completed"
	if a.tab == tabCompleted {
		tabs = "active  [ COMPLETED ]"
	}
	filterLabel := fmt.Sprintf("  filter: %s", statusFilterNames[a.filterIdx])
	b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(tabs+filterLabel) + "\n\n")

	switch a.mode {
	case "detail":
		b.WriteString(a.renderDetail())
	default:
		b.WriteString(a.renderList())
	}

	if a.searching {
		b.WriteString("\n" + searchBoxStyle.Render(a.search.View()))
	} else if a.search.Value() != "" {
		b.WriteString("\n" + helpStyle.Render("search: "+a.search.Value()+" (/ to edit, esc to clear)"))
	}

	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + style.Render(a.message))
	}

	status := fmt.Sprintf(" %d tasks | tab:view | f:status | /:search | r:refresh | q:quit", len(a.visible))
	b.WriteString("\n" + statusBarStyle.Width(maxInt(a.width, 20)).Render(status))

	return b.String()
}

func (a *App) renderList() string {
	if a.loading && len(a.tasks) == 0 {
		return "  Loading tasks...\n"
	}
	if len(a.visible) == 0 {
		return "  No tasks to show.\n"
	}

	height := a.height - 10
	if height < 5 {
		height = 5
	}

	var lines []string
	for i, t := range a.visible {
		label := fmt.Sprintf("%s  %-14s %-28s %s", statusDot(t.Status), t.Priority, truncate(t.Title, 28), t.AssignedTo)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("> "+label))
		} else {
			lines = append(lines, taskItemStyle.Render("  "+label))
		}
	}
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = maxInt(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderDetail() string {
	t := a.current
	if t == nil {
		return "  Loading...\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s\n", lipgloss.NewStyle().Bold(true).Render(t.Title)))
	b.WriteString(fmt.Sprintf("  ID: %s\n", t.TaskID))
	b.WriteString(fmt.Sprintf("  Status: %s %s\n", statusDot(t.Status), t.Status))
	b.WriteString(fmt.Sprintf("  Priority: %s | Category: %s\n", t.Priority, t.Category))
	b.WriteString(fmt.Sprintf("  Assigned: %s <%s>\n", t.AssignedTo, t.AssignedEmail))
	b.WriteString(fmt.Sprintf("  Created by: %s on %s\n", t.CreatedBy, t.CreatedAt.Format("2006-01-02")))
	if t.DueDate != nil {
		b.WriteString(fmt.Sprintf("  Due: %s\n", t.DueDate.Format("2006-01-02")))
	}
	if t.Description != "" {
		b.WriteString(fmt.Sprintf("  Description: %s\n", t.Description))
	}
	if t.ReturnCount > 0 {
		b.WriteString(fmt.Sprintf("  Returned %d time(s): %s\n", t.ReturnCount, t.SecretaryNotes))
	}
	if t.CompletionDetails != "" {
		b.WriteString(fmt.Sprintf("  Completed %s %s: %s\n", t.CompletionDate, t.CompletionTime, t.CompletionDetails))
	}
	b.WriteString("\n" + helpStyle.Render("  Esc to go back"))
	return b.String()
}

func statusDot(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusNew:
		return lipgloss.NewStyle().Foreground(warningColor).Render("o")
	case models.TaskStatusInProgress:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("o")
	case models.TaskStatusDone:
		return lipgloss.NewStyle().Foreground(successColor).Render("*")
	case models.TaskStatusReturned:
		return lipgloss.NewStyle().Foreground(errorColor).Render("<")
	case models.TaskStatusCancelled, models.TaskStatusExpired:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("x")
	default:
		return "?"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		tasks, err := a.client.ListTasks("")
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

type tasksLoadedMsg struct {
	tasks []*models.Task
}

type refreshTickMsg time.Time

type errMsg struct {
	err error
}
