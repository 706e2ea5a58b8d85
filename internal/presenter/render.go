package presenter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"neuroforge/internal/domain/model"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
	borderColor  = lipgloss.Color("#6B7280")
)

// Renderer turns wizard selections and job state into terminal text.
type Renderer struct {
	BarWidth int
	MaxLogs  int

	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	logLine lipgloss.Style
	box     lipgloss.Style
	filled  lipgloss.Style
	empty   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

func NewRenderer() *Renderer {
	return &Renderer{
		BarWidth: 30,
		MaxLogs:  12,
		title:    lipgloss.NewStyle().Bold(true).Foreground(primaryColor),
		label:    lipgloss.NewStyle().Foreground(mutedColor).Width(14),
		muted:    lipgloss.NewStyle().Foreground(mutedColor).Italic(true),
		logLine:  lipgloss.NewStyle().Foreground(successColor),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1),
		filled: lipgloss.NewStyle().Foreground(primaryColor),
		empty:  lipgloss.NewStyle().Foreground(borderColor),
		ok:     lipgloss.NewStyle().Bold(true).Foreground(successColor),
		warn:   lipgloss.NewStyle().Foreground(warningColor),
		bad:    lipgloss.NewStyle().Bold(true).Foreground(errorColor),
	}
}

// Header renders the wizard step indicator.
func (r *Renderer) Header(step Step) string {
	return r.title.Render(fmt.Sprintf("Step %d of 3: %s", step, step.Title()))
}

// Catalog lists the selectable base models.
func (r *Renderer) Catalog(entries []model.CatalogEntry, selected string) string {
	var b strings.Builder
	for _, m := range entries {
		marker := "  "
		if m.ID == selected {
			marker = r.ok.Render("> ")
		}
		fmt.Fprintf(&b, "%s%s  %s\n", marker, r.title.Render(m.Name), r.muted.Render(m.ID))
		fmt.Fprintf(&b, "    %s\n", m.Description)
		fmt.Fprintf(&b, "    %s · %s · %s\n", m.Provider, m.Parameters, m.RecommendedGPU)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Review summarises the selections before a job is started.
func (r *Renderer) Review(w *Wizard, backend string) string {
	name := "-"
	vram := "-"
	if m, ok := w.Model(); ok {
		name = m.Name
		vram = m.RecommendedGPU
	}
	dataset := w.Dataset()
	if dataset == "" {
		dataset = "-"
	}
	rows := []string{
		r.row("Base Model", name),
		r.row("Dataset", dataset),
		r.row("Backend", backend),
		r.row("Est. VRAM", vram),
	}
	return r.box.Render(strings.Join(rows, "\n"))
}

func (r *Renderer) row(k, v string) string {
	return r.label.Render(k) + v
}

// Progress renders the percentage line and bar.
func (r *Renderer) Progress(st model.JobState) string {
	p := st.Progress
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	filled := p * r.BarWidth / 100
	bar := r.filled.Render(strings.Repeat("█", filled)) + r.empty.Render(strings.Repeat("░", r.BarWidth-filled))
	return fmt.Sprintf("Training Progress %s %3d%%  [%s]", bar, p, st.Status)
}

// Logs renders the tail of the log history, one "> line" per entry.
func (r *Renderer) Logs(st model.JobState) string {
	if len(st.LogHistory) == 0 {
		return r.muted.Render(LogPlaceholder)
	}
	lines := st.LogHistory
	if r.MaxLogs > 0 && len(lines) > r.MaxLogs {
		lines = lines[len(lines)-r.MaxLogs:]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = r.LogLine(l)
	}
	return strings.Join(out, "\n")
}

func (r *Renderer) LogLine(l string) string {
	return r.logLine.Render("> " + l)
}

// Terminal renders the closing banner for an outcome.
func (r *Renderer) Terminal(o model.Outcome, lastErr string) string {
	msg := TerminalMessage(o)
	if msg == "" {
		return ""
	}
	switch o {
	case model.OutcomeCompleted:
		return r.ok.Render(msg)
	case model.OutcomeStopped:
		return r.warn.Render(msg)
	}
	if lastErr != "" {
		msg += "\n" + r.muted.Render(lastErr)
	}
	return r.bad.Render(msg)
}

// PollWarning is shown while status polls keep failing.
func (r *Renderer) PollWarning(failures int, lastErr string) string {
	return r.warn.Render(fmt.Sprintf("status poll failed (%d in a row): %s", failures, lastErr))
}

// Job renders a full frame for an update.
func (r *Renderer) Job(u model.Update) string {
	parts := []string{}
	if u.State.ID != "" {
		parts = append(parts,
			r.title.Render("Job "+string(u.State.ID)),
			r.Progress(u.State),
			r.box.Render(r.Logs(u.State)),
			r.muted.Render(ButtonLabel(&u.State)),
		)
	}
	if u.Outcome == model.OutcomeNone && u.PollFailures > 0 {
		parts = append(parts, r.PollWarning(u.PollFailures, u.LastError))
	}
	if t := r.Terminal(u.Outcome, u.LastError); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n")
}
