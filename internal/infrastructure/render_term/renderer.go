package render_term

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
	"github.com/muesli/termenv"
)

// Palette: muted, dark-terminal friendly.
var (
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	blue   = lipgloss.Color("39")
	cyan   = lipgloss.Color("51")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	boldStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(dim)
	mutedStyle = lipgloss.NewStyle().Foreground(dim)
	errStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(faint).
			Padding(0, 2)
)

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusSuccessful:
		return lipgloss.NewStyle().Foreground(green)
	case domain.StatusFailed, domain.StatusError:
		return lipgloss.NewStyle().Foreground(red)
	case domain.StatusStopped:
		return lipgloss.NewStyle().Foreground(yellow)
	case domain.StatusInProgress:
		return lipgloss.NewStyle().Foreground(blue)
	case domain.StatusPending:
		return lipgloss.NewStyle().Foreground(cyan)
	}
	return lipgloss.NewStyle()
}

// Renderer redraws the whole view on every poll. It owns the screen between
// the first Render and Finish.
type Renderer struct {
	out *termenv.Output
	now func() time.Time

	// redraw makes every Render clear the screen first; one-shot output
	// leaves the scrollback alone.
	redraw  bool
	started bool
}

func New(w io.Writer) *Renderer {
	return &Renderer{out: termenv.NewOutput(w), now: time.Now, redraw: true}
}

// NewOnce returns a renderer for single-frame output: no screen clearing,
// no cursor handling.
func NewOnce(w io.Writer) *Renderer {
	return &Renderer{out: termenv.NewOutput(w), now: time.Now}
}

func (r *Renderer) Render(s domain.State) {
	if r.redraw {
		if !r.started {
			r.out.HideCursor()
			r.started = true
		}
		r.out.ClearScreen()
	}
	_, _ = io.WriteString(r.out, r.frame(s))
}

// Finish draws the terminal state one last time, or just a stopped notice
// when the watch ended before the pipeline did.
func (r *Renderer) Finish(s domain.State) {
	if r.started {
		defer r.out.ShowCursor()
	}

	if !s.Terminal {
		_, _ = io.WriteString(r.out, "\n"+mutedStyle.Render("monitoring stopped")+"\n")
		return
	}

	if r.redraw {
		r.out.ClearScreen()
	}
	_, _ = io.WriteString(r.out, r.frame(s))

	st := statusStyle(s.Snapshot.Status).Bold(true)
	_, _ = io.WriteString(r.out, fmt.Sprintf("\n%s %s\n",
		boldStyle.Render("Pipeline completed with status:"),
		st.Render(string(s.Snapshot.Status)),
	))
}

func (r *Renderer) frame(s domain.State) string {
	var b strings.Builder

	b.WriteString(r.header(s))
	b.WriteString("\n")

	if len(s.Snapshot.Variables) > 0 {
		b.WriteString(variablesTable(s.Snapshot.Variables))
		b.WriteString("\n")
	}

	if len(s.Snapshot.Steps) > 0 {
		b.WriteString(r.stepsTable(s.Snapshot.Steps))
		b.WriteString("\n")
	}

	if r.redraw && !s.Terminal {
		b.WriteString(mutedStyle.Render("press ctrl+c to stop watching"))
		b.WriteString("\n")
	}

	return b.String()
}

func (r *Renderer) header(s domain.State) string {
	snap := s.Snapshot

	title := boldStyle.Render(snap.Identifier.Repo.FullName())
	if snap.Branch != "" {
		title += mutedStyle.Render(" (" + snap.Branch + ")")
	}

	status := statusStyle(snap.Status).Render(string(snap.Status))
	if s.Transitioned {
		status += mutedStyle.Render("  ← was " + string(s.PrevStatus))
	}

	lines := []string{
		title,
		"",
		kv("Pipeline", fmt.Sprintf("%s  #%d", snap.PipelineName, snap.BuildNumber)),
		kv("Status", status),
		kv("Duration", formatDuration(s.Elapsed(r.now()))),
	}

	if !snap.CreatedAt.IsZero() {
		lines = append(lines, kv("Created", snap.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}

	if snap.Commit.Hash != "" {
		commit := snap.Commit.ShortHash()
		if snap.Commit.Author != "" {
			commit += "  " + snap.Commit.Author
		}
		lines = append(lines, kv("Commit", commit))
		if msg := firstLine(snap.Commit.Message); msg != "" {
			lines = append(lines, kv("Message", msg))
		}
	}

	if snap.WebURL != "" {
		lines = append(lines, kv("URL", mutedStyle.Render(snap.WebURL)))
	}

	lines = append(lines, kv("Polls", fmt.Sprintf("%d", s.Polls)))

	if s.LastErr != nil {
		lines = append(lines, "", errStyle.Render("! "+s.LastErr.Error()+" (retrying)"))
	}

	return panelStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func (r *Renderer) stepsTable(steps []domain.Step) string {
	rows := make([][]string, 0, len(steps))
	for _, st := range steps {
		dur := "-"
		if !st.StartedAt.IsZero() {
			dur = formatDuration(st.Duration(r.now()))
		}
		rows = append(rows, []string{
			st.Name,
			statusStyle(st.Status).Render(string(st.Status)),
			dur,
		})
	}
	return renderTable([]string{"STEP", "STATUS", "DURATION"}, rows)
}

func variablesTable(vars []domain.Variable) string {
	rows := make([][]string, 0, len(vars))
	for _, v := range vars {
		rows = append(rows, []string{v.Key, v.Value})
	}
	return renderTable([]string{"VARIABLE", "VALUE"}, rows)
}

func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(dim).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	return t.Render() + "\n"
}

func kv(key, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-9s", key+":")) + " " + value
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
