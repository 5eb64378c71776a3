package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/collectx/internal/models"
)

var styles = NewPalette(Colors{
	Title:   "#7D56F4",
	OK:      "#04B575",
	Error:   "#FF0000",
	Warning: "#FFA500",
	Muted:   "#626262",
})

// Colors names the hex foreground for each role in a [Palette].
type Colors struct {
	Title, OK, Error, Warning, Muted string
}

// Palette holds the styles shared by the progress view and plain CLI output.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(c Colors) *Palette {
	return &Palette{
		title: NewBold(c.Title).MarginBottom(1),
		ok:    NewBold(c.OK),
		err:   NewBold(c.Error),
		warn:  NewStyle(c.Warning),
		help:  NewEm(c.Muted),
	}
}

// outcome picks the style for a job outcome. Partial outcomes warn.
func (p *Palette) outcome(o models.JobOutcome) lipgloss.Style {
	switch o {
	case models.JobCompleted:
		return p.ok
	case models.JobFailed:
		return p.err
	case models.JobRunning:
		return p.help
	default:
		return p.warn
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func Success(s string) string { return styles.ok.Render(s) }
func Warning(s string) string { return styles.warn.Render(s) }
func Failure(s string) string { return styles.err.Render(s) }
func Muted(s string) string   { return styles.help.Render(s) }

// Outcome renders a job outcome in its status color.
func Outcome(o models.JobOutcome) string {
	return styles.outcome(o).Render(string(o))
}
