package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// TaskProgress prints one line per task of a known list:
//
//	[1/3] user ............................. done (4ms)
type TaskProgress struct {
	tasks   []string
	current int
	writer  io.Writer
	start   time.Time
	total   time.Duration
	failed  int
	now     func() time.Time
}

// NewTaskProgress returns a tracker for tasks writing to w.
func NewTaskProgress(w io.Writer, tasks []string) *TaskProgress {
	return &TaskProgress{tasks: tasks, writer: w, now: time.Now}
}

// Start begins the task at index.
func (t *TaskProgress) Start(index int) {
	t.current = index
	t.start = t.now()
	name := t.tasks[index]
	dots := strings.Repeat(".", max(3, 32-len(name)))
	fmt.Fprintf(t.writer, "  [%d/%d] %s %s ", index+1, len(t.tasks), name, Dim(dots))
}

// Complete ends the current task successfully.
func (t *TaskProgress) Complete() {
	d := t.stop()
	fmt.Fprintf(t.writer, "%s (%s)\n", Done("done"), formatDuration(d))
}

// Failed ends the current task with err.
func (t *TaskProgress) Failed(err error) {
	t.stop()
	t.failed++
	msg, _, _ := strings.Cut(err.Error(), "\n")
	fmt.Fprintf(t.writer, "%s: %s\n", Error("failed"), msg)
}

func (t *TaskProgress) stop() time.Duration {
	d := t.now().Sub(t.start)
	t.total += d
	return d
}

// Summary prints the number of tasks and the time they took.
func (t *TaskProgress) Summary() {
	done := len(t.tasks) - t.failed
	fmt.Fprintf(t.writer, "\nSynced %s in %s", FormatCount(done, "table", "tables"), formatDuration(t.total))
	if t.failed > 0 {
		fmt.Fprintf(t.writer, ", %d failed", t.failed)
	}
	fmt.Fprintln(t.writer)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
