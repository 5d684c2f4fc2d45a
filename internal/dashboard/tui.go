// Package dashboard implements the terminal watch view: a bubbletea
// program polling a running daemon's status endpoint and rendering the
// driver state, the last pass, per-project results, and pass activity.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alekspetrov/tether/internal/banner"
	"github.com/alekspetrov/tether/internal/engine"
)

// Every panel renders at a fixed width. Content rows sit inside the
// borders with a one-space gutter on each side.
const (
	panelWidth        = 69
	panelContentWidth = panelWidth - 4
)

// historyCap bounds how many finished passes the watch view remembers
// for the activity sparkline.
const historyCap = 60

// sparkBlocks is the glyph ramp for the activity sparkline, from blank
// padding at level 0 up to a full block at level 8.
var sparkBlocks = [...]rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Muted palette for dark terminals.
var (
	steelBlue = lipgloss.Color("#7eb8da")
	slate     = lipgloss.Color("#3d4450")
	dustyRose = lipgloss.Color("#d48a8a")
	sageGreen = lipgloss.Color("#7ec699")
	amber     = lipgloss.Color("#d4a054")
	ash       = lipgloss.Color("#8b949e")
	ink       = lipgloss.Color("#c9d1d9")
	faint     = lipgloss.Color("#6e7681")
)

var (
	titleStyle           = lipgloss.NewStyle().Bold(true).Foreground(steelBlue)
	borderStyle          = lipgloss.NewStyle().Foreground(slate)
	labelStyle           = lipgloss.NewStyle().Foreground(ink)
	helpStyle            = lipgloss.NewStyle().Foreground(ash)
	dimStyle             = lipgloss.NewStyle().Foreground(ash)
	warningStyle         = lipgloss.NewStyle().Foreground(amber)
	statusRunningStyle   = lipgloss.NewStyle().Foreground(steelBlue)
	statusPendingStyle   = lipgloss.NewStyle().Foreground(faint)
	statusFailedStyle    = lipgloss.NewStyle().Foreground(dustyRose)
	statusCompletedStyle = lipgloss.NewStyle().Foreground(sageGreen)
)

// StatusClient fetches driver status from a running daemon's status
// server. Requests fail fast; the watch loop retries on the next tick.
type StatusClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewStatusClient creates a client for the given base URL. The token is
// sent as a bearer credential when the server requires one.
func NewStatusClient(baseURL, token string) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// BaseURL returns the polled address for display.
func (c *StatusClient) BaseURL() string {
	return c.baseURL
}

// Fetch retrieves the current driver status.
func (c *StatusClient) Fetch(ctx context.Context) (*engine.DriverStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/poll/status", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var status engine.DriverStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// passSample is one finished pass in the activity history.
type passSample struct {
	passID   string
	patched  int
	failures int
}

// Model is the bubbletea model for the watch view
type Model struct {
	client   *StatusClient
	interval time.Duration
	version  string

	status    *engine.DriverStatus
	fetchErr  error
	fetchedAt time.Time
	history   []passSample

	width    int
	height   int
	quitting bool
}

// tickMsg is sent periodically to trigger the next status poll
type tickMsg time.Time

// statusMsg delivers a fetched driver status
type statusMsg *engine.DriverStatus

// statusErrMsg delivers a failed fetch
type statusErrMsg struct{ err error }

// NewModel creates a watch model polling the given client.
func NewModel(version string, client *StatusClient, interval time.Duration) Model {
	if interval < time.Second {
		interval = 2 * time.Second
	}
	return Model{
		client:   client,
		interval: interval,
		version:  version,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchCmd(m.client),
		m.tickCmd(),
		tea.EnterAltScreen,
	)
}

// tickCmd schedules the next poll tick
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd polls the status endpoint off the main loop
func fetchCmd(client *StatusClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		status, err := client.Fetch(ctx)
		if err != nil {
			return statusErrMsg{err: err}
		}
		return statusMsg(status)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.client)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.client), m.tickCmd())

	case statusMsg:
		m.status = (*engine.DriverStatus)(msg)
		m.fetchErr = nil
		m.fetchedAt = time.Now()
		m.recordPass()

	case statusErrMsg:
		m.fetchErr = msg.err
	}

	return m, nil
}

// recordPass appends the last report to the activity history, once per
// pass id.
func (m *Model) recordPass() {
	if m.status == nil || m.status.LastReport == nil {
		return
	}
	report := m.status.LastReport
	if n := len(m.history); n > 0 && m.history[n-1].passID == report.PassID {
		return
	}

	sample := passSample{passID: report.PassID}
	for _, p := range report.Projects {
		sample.patched += p.PatchesApplied
		sample.failures += p.Failures
	}
	m.history = append(m.history, sample)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

// View renders the watch view
func (m Model) View() string {
	if m.quitting {
		return "Tether watch stopped.\n"
	}

	var b strings.Builder

	// Header with ASCII logo
	b.WriteString("\n")
	logo := strings.TrimPrefix(banner.Logo, "\n")
	b.WriteString(titleStyle.Render(logo))
	b.WriteString(titleStyle.Render(fmt.Sprintf("   Tether %s", m.version)))
	b.WriteString("\n\n")

	b.WriteString(m.renderDriverPanel())
	b.WriteString("\n")

	b.WriteString(m.renderPassPanel())
	b.WriteString("\n")

	b.WriteString(m.renderProjectsPanel())
	b.WriteString("\n")

	b.WriteString(m.renderActivityPanel())
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("q: quit  r: refresh"))

	return b.String()
}

// renderDriverPanel shows the poll driver's state and the connection to
// the daemon.
func (m Model) renderDriverPanel() string {
	var content strings.Builder
	w := panelContentWidth

	content.WriteString(dotLeader("Target", m.client.BaseURL(), w))
	content.WriteString("\n")

	if m.status == nil {
		if m.fetchErr != nil {
			content.WriteString(dotLeaderStyled("State", "unreachable", statusFailedStyle, w))
			content.WriteString("\n")
			content.WriteString("  " + truncateVisual(m.fetchErr.Error(), w-4))
			content.WriteString("\n")
			content.WriteString(dimStyle.Render("  Is the daemon running with server.enabled?"))
		} else {
			content.WriteString(dotLeaderStyled("State", "connecting...", statusPendingStyle, w))
		}
		return renderPanel("DRIVER", content.String())
	}

	if m.status.Running {
		content.WriteString(dotLeaderStyled("State", "pass in flight", statusRunningStyle, w))
	} else {
		content.WriteString(dotLeaderStyled("State", "idle", dimStyle, w))
	}
	content.WriteString("\n")

	lastRun := "never"
	if m.status.LastRunAt != nil {
		lastRun = formatTimeAgo(*m.status.LastRunAt)
	}
	content.WriteString(dotLeader("Last run", lastRun, w))
	content.WriteString("\n")

	lastSuccess := "never"
	if m.status.LastSuccessAt != nil {
		lastSuccess = formatTimeAgo(*m.status.LastSuccessAt)
	}
	content.WriteString(dotLeader("Last success", lastSuccess, w))

	if m.status.ConsecutiveFailures > 0 {
		content.WriteString("\n")
		failStr := fmt.Sprintf("%d", m.status.ConsecutiveFailures)
		content.WriteString(dotLeaderStyled("Consecutive failures", failStr, warningStyle, w))
	}
	if m.fetchErr != nil {
		content.WriteString("\n")
		content.WriteString(dotLeaderStyled("Connection", "lost, retrying", warningStyle, w))
	}

	return renderPanel("DRIVER", content.String())
}

// renderPassPanel summarizes the most recent pass.
func (m Model) renderPassPanel() string {
	var content strings.Builder
	w := panelContentWidth

	if m.status == nil || m.status.LastReport == nil {
		content.WriteString("  No pass completed yet")
		return renderPanel("LAST PASS", content.String())
	}

	report := m.status.LastReport
	passLabel := report.PassID
	if report.DryRun {
		passLabel += " (dry-run)"
	}
	content.WriteString(dotLeader("Pass", passLabel, w))
	content.WriteString("\n")
	content.WriteString(dotLeader("Finished", formatTimeAgo(report.FinishedAt), w))
	content.WriteString("\n")
	content.WriteString(dotLeader("Duration", formatDurationCompact(report.FinishedAt.Sub(report.StartedAt)), w))
	content.WriteString("\n")

	var seeded, createdForge, createdTracker, patched, merged, swept, failures int
	for _, p := range report.Projects {
		seeded += p.MappingsSeeded
		createdForge += p.CreatedForge
		createdTracker += p.CreatedTracker
		patched += p.PatchesApplied
		merged += p.Conflicts
		swept += p.MappingsDeleted
		failures += p.Failures
	}

	createdStr := fmt.Sprintf("%d forge  %d tracker", createdForge, createdTracker)
	content.WriteString(dotLeader("Created", createdStr, w))
	content.WriteString("\n")

	changesStr := fmt.Sprintf("%d seeded  %d patched  %d swept", seeded, patched, swept)
	content.WriteString(dotLeader("Changes", changesStr, w))

	if merged > 0 {
		content.WriteString("\n")
		content.WriteString(dotLeaderStyled("Conflicts merged", fmt.Sprintf("%d", merged), warningStyle, w))
	}
	if failures > 0 {
		content.WriteString("\n")
		content.WriteString(dotLeaderStyled("Failures", fmt.Sprintf("%d", failures), statusFailedStyle, w))
	}
	if report.Error != "" {
		content.WriteString("\n")
		content.WriteString("  " + statusFailedStyle.Render(truncateVisual(report.Error, w-4)))
	}

	return renderPanel("LAST PASS", content.String())
}

// renderProjectsPanel lists per-project results of the last pass.
func (m Model) renderProjectsPanel() string {
	var content strings.Builder

	if m.status == nil || m.status.LastReport == nil || len(m.status.LastReport.Projects) == 0 {
		content.WriteString("  No linked projects synced yet")
		return renderPanel("PROJECTS", content.String())
	}

	projects := m.status.LastReport.Projects
	const maxRows = 8
	for i, p := range projects {
		if i >= maxRows {
			content.WriteString("\n")
			content.WriteString(dimStyle.Render(fmt.Sprintf("  ... and %d more", len(projects)-maxRows)))
			break
		}
		if i > 0 {
			content.WriteString("\n")
		}

		icon := statusCompletedStyle.Render("*")
		switch {
		case p.Error != "":
			icon = statusFailedStyle.Render("!")
		case p.Failures > 0:
			icon = warningStyle.Render("~")
		}

		right := fmt.Sprintf("%s patched", formatCompact(p.PatchesApplied))
		if p.Failures > 0 {
			right = fmt.Sprintf("%s patched  %d failed", formatCompact(p.PatchesApplied), p.Failures)
		}
		left := icon + " " + truncateString(p.Project, 34)
		content.WriteString(formatPanelRow(left, right))
	}

	return renderPanel("PROJECTS", content.String())
}

// renderActivityPanel draws the patched-per-pass sparkline over the
// observed history.
func (m Model) renderActivityPanel() string {
	var content strings.Builder
	w := panelContentWidth

	if len(m.history) < 2 {
		content.WriteString(statusPendingStyle.Render("  Waiting for more passes..."))
		return renderPanel("ACTIVITY", content.String())
	}

	values := make([]float64, len(m.history))
	for i, s := range m.history {
		values[i] = float64(s.patched)
	}
	sparkWidth := w - 4
	levels := normalizeToSparkline(values, sparkWidth)
	pulsing := m.status != nil && m.status.Running
	content.WriteString("  " + renderSparkline(levels, sparkWidth, pulsing))
	content.WriteString("\n")

	last := m.history[len(m.history)-1]
	content.WriteString(dotLeader("Passes observed", formatCompact(len(m.history)), w))
	content.WriteString("\n")
	content.WriteString(dotLeader("Patched last pass", formatCompact(last.patched), w))

	return renderPanel("ACTIVITY", content.String())
}

// renderPanel frames content in a fixed-width box. lipgloss borders
// drift by a cell when rows mix styled and plain text, so the frame is
// assembled by hand from panelTop, panelRow, and panelBottom.
func renderPanel(title string, content string) string {
	var b strings.Builder
	b.WriteString(panelTop(title))
	b.WriteByte('\n')
	b.WriteString(panelRow(""))
	b.WriteByte('\n')
	for _, line := range strings.Split(content, "\n") {
		b.WriteString(panelRow(line))
		b.WriteByte('\n')
	}
	b.WriteString(panelRow(""))
	b.WriteByte('\n')
	b.WriteString(panelBottom())
	return b.String()
}

// panelTop draws the upper border with the title inlined:
// ╭─ TITLE ───────╮
func panelTop(title string) string {
	name := strings.ToUpper(title)
	fill := panelWidth - lipgloss.Width("╭─ "+name+" ") - 1
	if fill < 0 {
		fill = 0
	}
	return borderStyle.Render("╭─ ") + labelStyle.Render(name) +
		borderStyle.Render(" "+strings.Repeat("─", fill)+"╮")
}

func panelBottom() string {
	return borderStyle.Render("╰" + strings.Repeat("─", panelWidth-2) + "╯")
}

// panelRow wraps a single content line in borders. The line is padded
// or cut so every row lands at exactly panelWidth cells.
func panelRow(line string) string {
	edge := borderStyle.Render("│")
	return edge + " " + padOrTruncate(line, panelContentWidth) + " " + edge
}

// padOrTruncate fits s to exactly width visual cells.
func padOrTruncate(s string, width int) string {
	switch w := lipgloss.Width(s); {
	case w > width:
		return truncateVisual(s, width)
	case w < width:
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// truncateVisual cuts s down to width visual cells, ending in "..."
// when it had to cut. Width is counted in cells, so wide glyphs take
// two.
func truncateVisual(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	if width <= 3 {
		return strings.Repeat(".", width)
	}

	keep := width - 3
	var b strings.Builder
	used := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if used+rw > keep {
			break
		}
		b.WriteRune(r)
		used += rw
	}
	for ; used < keep; used++ {
		b.WriteByte(' ')
	}
	return b.String() + "..."
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// leaderFor sizes the dot run between a label and a value so the whole
// row lands at width cells. The value is appended by the callers, which
// lets dotLeaderStyled measure it before styling.
func leaderFor(label, value string, width int) string {
	left := "  " + label + " "
	dots := width - lipgloss.Width(left) - lipgloss.Width(value) - 1
	if dots < 3 {
		dots = 3
	}
	return left + strings.Repeat(".", dots) + " "
}

// dotLeader renders "  Label ......... value".
func dotLeader(label string, value string, totalWidth int) string {
	return leaderFor(label, value, totalWidth) + value
}

// dotLeaderStyled is dotLeader with the value colored.
func dotLeaderStyled(label string, value string, style lipgloss.Style, totalWidth int) string {
	return leaderFor(label, value, totalWidth) + style.Render(value)
}

// formatPanelRow spreads a left and a right part across one panel row.
func formatPanelRow(left, right string) string {
	gap := panelContentWidth - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}
	return "  " + left + strings.Repeat(" ", gap) + right
}

// formatCompact shortens counts for narrow columns: 999, 1.0K, 1.2M.
func formatCompact(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return strconv.Itoa(n)
}

// normalizeToSparkline maps raw values onto sparkline levels 1..8,
// right-aligned in a slice of len width. Level 0 marks left padding;
// zero values stay at level 1 so they remain visible in the ramp.
func normalizeToSparkline(values []float64, width int) []int {
	levels := make([]int, width)
	if len(values) == 0 {
		return levels
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	base := width - len(values)

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	// A flat series carries no shape. Draw it at the midpoint, or at
	// the baseline when every value is zero.
	if hi == lo {
		flat := 4
		if hi == 0 {
			flat = 1
		}
		for i := range values {
			levels[base+i] = flat
		}
		return levels
	}

	for i, v := range values {
		lv := 1 + int(math.Round((v-lo)/(hi-lo)*7))
		if v == 0 || lv < 1 {
			lv = 1
		}
		if lv > 8 {
			lv = 8
		}
		levels[base+i] = lv
	}
	return levels
}

// renderSparkline draws levels as block glyphs across exactly width
// cells. The final cell shows a pulse dot while a pass is in flight.
func renderSparkline(levels []int, width int, pulsing bool) string {
	cells := width - 1
	if len(levels) > cells {
		levels = levels[len(levels)-cells:]
	}

	var b strings.Builder
	for i := len(levels); i < cells; i++ {
		b.WriteRune(sparkBlocks[0])
	}
	for _, lv := range levels {
		if lv < 0 {
			lv = 0
		}
		if lv >= len(sparkBlocks) {
			lv = len(sparkBlocks) - 1
		}
		b.WriteRune(sparkBlocks[lv])
	}
	if pulsing {
		b.WriteRune('•')
	} else {
		b.WriteRune(' ')
	}
	return b.String()
}

// formatTimeAgo formats a time as relative duration
func formatTimeAgo(t time.Time) string {
	duration := time.Since(t)
	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		mins := int(duration.Minutes())
		return fmt.Sprintf("%dm ago", mins)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		return fmt.Sprintf("%dh ago", hours)
	}
	return t.Format("Jan 2")
}

// formatDurationCompact formats a duration compactly (e.g., "2m30s", "1h5m").
func formatDurationCompact(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}

// Run starts the watch view against the given daemon address.
func Run(version, baseURL, token string, interval time.Duration) error {
	client := NewStatusClient(baseURL, token)
	p := tea.NewProgram(
		NewModel(version, client, interval),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
