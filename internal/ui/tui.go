package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/indexsync/internal/async"
)

// ErrNotTTY is returned by NewTUIRenderer for non-terminal output.
var ErrNotTTY = errors.New("output is not a TTY")

// TUIRenderer draws a live panel with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *Tracker
	model   *rebuildModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, ErrNotTTY
	}
	tracker := NewTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newRebuildModel(tracker, cfg.Title, GetStyles(cfg.NoColor || DetectNoColor())),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		return nil
	}
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(snap async.Snapshot) {
	r.tracker.Observe(snap)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(s))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type completeMsg Summary
type tickMsg time.Time

type rebuildModel struct {
	tracker  *Tracker
	title    string
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	summary  *Summary
	quitting bool
}

func newRebuildModel(tracker *Tracker, title string, styles Styles) *rebuildModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = styles.Active

	return &rebuildModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m *rebuildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update implements tea.Model.
func (m *rebuildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		s := Summary(msg)
		m.summary = &s
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *rebuildModel) View() string {
	if m.quitting {
		return "Detached; rebuild continues until stopped.\n"
	}
	if m.summary != nil {
		return m.renderSummary()
	}

	width := max(m.width-4, 40)
	snap := m.tracker.Last()
	lines := []string{
		m.renderStages(snap.Stage),
		m.styles.Dim.Render(strings.Repeat("─", width)),
		m.bar.ViewAs(m.tracker.Fraction()) + "  " + m.styles.Active.Render(fmt.Sprintf("%3.0f%%", m.tracker.Fraction()*100)),
		m.styles.Label.Render(fmt.Sprintf("%d / %d entities  •  %d documents", snap.EntitiesLoaded, snap.EntitiesTotal, snap.DocumentsAdded)),
		m.renderSpeed(),
		m.styles.Sparkline.Render(m.tracker.Sparkline(max(width-12, 10))) + " " + m.styles.Dim.Render("throughput"),
	}

	title := "indexsync rebuild"
	if m.title != "" {
		title += " • " + m.title
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		m.styles.Panel.Width(width).Render(strings.Join(lines, "\n")),
	)
}

func (m *rebuildModel) renderStages(current string) string {
	order := []async.Stage{async.StagePurging, async.StageLoading, async.StageOptimizing, async.StageCompleted}
	pos := -1
	for i, s := range order {
		if string(s) == current {
			pos = i
		}
	}
	parts := make([]string, 0, len(order))
	for i, s := range order {
		switch {
		case i < pos || (i == pos && s == async.StageCompleted):
			parts = append(parts, m.styles.Success.Render("● "+string(s)))
		case i == pos:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+string(s)))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+string(s)))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *rebuildModel) renderSpeed() string {
	sp := m.tracker.Speed()
	s := fmt.Sprintf("Speed: %.0f/s", sp.Current)
	if sp.Avg > 0 {
		s += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", sp.Avg, sp.Peak)
	}
	if eta := m.tracker.ETA(); eta > 0 {
		s += "  •  ETA: " + formatDuration(eta)
	}
	return m.styles.Label.Render(s)
}

func (m *rebuildModel) renderSummary() string {
	s := m.summary
	var head string
	switch {
	case s.Err != nil:
		head = m.styles.Error.Render(fmt.Sprintf("✗ Rebuild failed after %s: %v", formatDuration(s.Duration), s.Err))
	case s.Stopped:
		head = m.styles.Warning.Render(fmt.Sprintf("■ Rebuild stopped after %s", formatDuration(s.Duration)))
	default:
		head = m.styles.Success.Render(fmt.Sprintf("✓ %d entities indexed in %s", s.Entities, formatDuration(s.Duration)))
	}
	lines := append([]string{head}, perTypeLines(s.PerType)...)
	return strings.Join(lines, "\n") + "\n"
}

// formatDuration renders d as "1h 2m", "2m 15s" or "4.2s".
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}
