package presenter

import (
	"fmt"
	"io"
	"sync"

	"neuroforge/internal/domain/model"
)

// Console streams updates to a line-oriented writer: new log lines as they
// arrive, a progress line when progress or status changes, and the terminal
// banner once.
type Console struct {
	w io.Writer
	r *Renderer

	mu        sync.Mutex
	job       model.JobID
	printed   int
	progress  int
	status    model.JobStatus
	failures  int
	finalized bool
}

func NewConsole(w io.Writer, r *Renderer) *Console {
	if r == nil {
		r = NewRenderer()
	}
	return &Console{w: w, r: r, progress: -1}
}

// Handle is meant to be passed to LifecycleUseCase.Subscribe.
func (c *Console) Handle(u model.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.State.ID != c.job {
		c.job = u.State.ID
		c.printed = 0
		c.progress = -1
		c.status = ""
		c.failures = 0
		c.finalized = false
		if c.job != "" {
			fmt.Fprintln(c.w, c.r.title.Render("Job "+string(c.job)))
			if len(u.State.LogHistory) == 0 {
				fmt.Fprintln(c.w, c.r.muted.Render(LogPlaceholder))
			}
		}
	}

	if c.job != "" {
		for _, l := range u.State.LogHistory[min(c.printed, len(u.State.LogHistory)):] {
			fmt.Fprintln(c.w, c.r.LogLine(l))
		}
		c.printed = max(c.printed, len(u.State.LogHistory))

		if u.State.Progress != c.progress || u.State.Status != c.status {
			fmt.Fprintln(c.w, c.r.Progress(u.State))
			c.progress = u.State.Progress
			c.status = u.State.Status
		}
	}

	if u.Outcome == model.OutcomeNone && u.PollFailures > c.failures {
		fmt.Fprintln(c.w, c.r.PollWarning(u.PollFailures, u.LastError))
	}
	c.failures = u.PollFailures

	if u.Outcome != model.OutcomeNone && (!c.finalized || c.job == "") {
		fmt.Fprintln(c.w, c.r.Terminal(u.Outcome, u.LastError))
		c.finalized = true
	}
}
