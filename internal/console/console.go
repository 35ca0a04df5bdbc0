// Package console renders the automation session on a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/service"
	"github.com/autosender/autosender/internal/session"
)

type styles struct {
	time     lipgloss.Style
	info     lipgloss.Style
	progress lipgloss.Style
	warn     lipgloss.Style
	err      lipgloss.Style
	debug    lipgloss.Style
	title    lipgloss.Style
	label    lipgloss.Style
	panel    lipgloss.Style
	running  lipgloss.Style
	paused   lipgloss.Style
	idle     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		time:     r.NewStyle().Foreground(lipgloss.Color("244")),
		info:     r.NewStyle().Foreground(lipgloss.Color("255")),
		progress: r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("214")),
		err:      r.NewStyle().Foreground(lipgloss.Color("196")),
		debug:    r.NewStyle().Faint(true).Foreground(lipgloss.Color("244")),
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		label:    r.NewStyle().Foreground(lipgloss.Color("244")).Width(10),
		panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		running: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		paused:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		idle:    r.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// Console writes session log entries and status panels to w.
type Console struct {
	mx     sync.Mutex
	w      io.Writer
	styles styles
}

func New(w io.Writer) *Console {
	return &Console{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

// Entry prints a single log entry. It can be used as a session listener.
func (c *Console) Entry(e session.Entry) {
	var style lipgloss.Style
	switch e.Level {
	case session.LevelProgress:
		style = c.styles.progress
	case session.LevelWarn:
		style = c.styles.warn
	case session.LevelError:
		style = c.styles.err
	case session.LevelDebug:
		style = c.styles.debug
	default:
		style = c.styles.info
	}
	line := c.styles.time.Render("["+e.At.Format(time.TimeOnly)+"]") + " " + style.Render(e.Text)
	c.println(line)
}

// Panel renders the state of an automation of job. st may be nil.
func (c *Console) Panel(state session.State, job model.Job, st *service.Status) string {
	s := c.styles
	var badge string
	switch {
	case state.Running && state.Paused:
		badge = s.paused.Render("PAUSED")
	case state.Running:
		badge = s.running.Render("RUNNING")
	default:
		badge = s.idle.Render("IDLE")
	}

	rows := []string{
		s.title.Render("autosender") + "  " + badge,
		s.label.Render("progress") + fmt.Sprintf("%d/%d", state.CurrentCount, job.RepeatCount),
		s.label.Render("sent") + fmt.Sprintf("%d", state.TotalSent),
		s.label.Render("start") + job.StartTime,
		s.label.Render("interval") + job.IntervalDuration().String(),
	}
	if st != nil {
		if st.RunID != "" {
			rows = append(rows, s.label.Render("run")+fmt.Sprintf("%s (generation %d)", st.RunID, st.Generation))
		}
		if st.Process != nil && st.Process.Running {
			rows = append(rows, s.label.Render("worker")+fmt.Sprintf("pid %d, rss %s", st.Process.PID, bytes(st.Process.RSS)))
		}
	}
	return s.panel.Render(strings.Join(rows, "\n"))
}

// Print writes a panel.
func (c *Console) Print(state session.State, job model.Job, st *service.Status) {
	c.println(c.Panel(state, job, st))
}

func (c *Console) println(s string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	_, _ = io.WriteString(c.w, s+"\n")
}

func bytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
