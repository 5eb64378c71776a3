package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/tasks"
)

// recentLimit is how many accepted record ids the progress view keeps.
const recentLimit = 8

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ProgressView ViewState = iota
	ResultView
)

// RunFunc runs one job, reporting progress to obs.
type RunFunc func(ctx context.Context, obs tasks.Observer) (*tasks.PollResult, error)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	cancel       context.CancelFunc
	title        string
	run          RunFunc
	view         ViewState
	progressChan chan tasks.ProgressUpdate
	done         chan jobDone
	spinner      spinner.Model
	bar          progress.Model
	latest       tasks.ProgressUpdate
	recent       []string
	cancelling   bool
	result       *tasks.PollResult
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a model that runs run when the program starts.
func NewModel(ctx context.Context, title string, run RunFunc) *Model {
	ctx, cancel := context.WithCancel(ctx)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.title.UnsetMarginBottom()

	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		title:   title,
		run:     run,
		view:    ProgressView,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Result returns the job's result once the program has exited.
func (m *Model) Result() (*tasks.PollResult, error) {
	return m.result, m.err
}

// Init starts the job and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startJob())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 80)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		if m.view != ProgressView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			update := msg.data.(tasks.ProgressUpdate)
			m.latest = update
			for _, it := range update.NewlyAccepted {
				m.recent = append(m.recent, it.RecordID)
			}
			if n := len(m.recent); n > recentLimit {
				m.recent = m.recent[n-recentLimit:]
			}
			return m, tea.Batch(m.bar.SetPercent(fraction(update)), m.waitForProgress())

		case MsgJobComplete:
			done := msg.data.(jobDone)
			m.result, m.err = done.result, done.err
			m.view = ResultView
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.cancel):
		if m.view == ResultView {
			return m, tea.Quit
		}
		m.cancelling = true
		m.cancel()
		return m, nil

	case key.Matches(msg, m.keys.quit):
		if m.view == ResultView {
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ProgressView:
		return m.renderProgress()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) startJob() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	m.done = make(chan jobDone, 1)

	go func() {
		result, err := m.run(m.ctx, tasks.ChannelObserver(m.progressChan))
		m.done <- jobDone{result: result, err: err}
		close(m.progressChan)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.progressChan
		if !ok {
			done := <-m.done
			return jobCompleteMsg(done.result, done.err)
		}
		return progressUpdateMsg(update)
	}
}

func fraction(u tasks.ProgressUpdate) float64 {
	switch {
	case u.Percent > 0:
		return min(u.Percent/100, 1)
	case u.Total > 0:
		return min(float64(u.Completed)/float64(u.Total), 1)
	default:
		return 0
	}
}

func (m *Model) renderProgress() string {
	var b strings.Builder

	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")

	status := "submitting..."
	if m.latest.Cycle > 0 {
		status = fmt.Sprintf("%s  %d/%d  accepted %d  (%s)",
			m.latest.Phase, m.latest.Completed, m.latest.Total, m.latest.Accepted, m.latest.Elapsed.Round(time.Second))
	}
	if m.cancelling {
		status = styles.warn.Render("cancelling, waiting for partial results...")
	}
	fmt.Fprintf(&b, "%s %s\n\n%s\n", m.spinner.View(), status, m.bar.View())

	if len(m.recent) > 0 {
		b.WriteString("\n")
		for _, id := range m.recent {
			fmt.Fprintf(&b, "  + %s\n", id)
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})

	if m.result == nil {
		msg := "Job failed"
		if m.err != nil {
			msg = fmt.Sprintf("Job failed: %v", m.err)
		}
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(msg), helpView)
	}

	r := m.result
	var title string
	switch r.Outcome {
	case models.JobCompleted:
		title = "✓ Job complete"
	case models.JobFailed:
		title = "✗ Job failed"
	default:
		title = fmt.Sprintf("! Job stopped: %s", r.Outcome)
	}
	title = styles.outcome(r.Outcome).Render(title)

	info := fmt.Sprintf("\nTask: %s\nResults: %d (reported %d/%d)\nPolls: %d in %s",
		r.Job.ID, len(r.Items), r.Completed, r.Total, r.Cycles, r.Elapsed.Round(time.Second))
	if r.Dropped > 0 {
		info += fmt.Sprintf("\nDropped beyond total: %d", r.Dropped)
	}
	if r.TerminalError != "" {
		info += "\n" + styles.warn.Render("Reason: "+r.TerminalError)
	}
	if m.err != nil && r.Outcome != models.JobFailed {
		info += "\n" + styles.err.Render(m.err.Error())
	}

	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}
