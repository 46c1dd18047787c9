package command

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RunInfo describes a run in progress.
type RunInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Input     string    `json:"input"`
	Started   time.Time `json:"started"`
}

// RunLister lists runs in progress.
type RunLister interface {
	Runs() []RunInfo
}

// RunListerFunc adapts a function to RunLister.
type RunListerFunc func() []RunInfo

func (f RunListerFunc) Runs() []RunInfo { return f() }

// RegisterRunCommands registers /runs.
func RegisterRunCommands(reg *Registry, lister RunLister) {
	reg.Register(&Command{
		Name:        "runs",
		Description: "List runs in progress",
		Usage:       "/runs",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			runs := lister.Runs()
			if len(runs) == 0 {
				return &CommandResult{Content: "No runs in progress."}, nil
			}
			var b strings.Builder
			b.WriteString("Runs in progress:\n")
			for _, r := range runs {
				fmt.Fprintf(&b, "  [%s] session %s, %s: %q\n",
					r.ID, r.SessionID, time.Since(r.Started).Round(time.Second), truncate(r.Input, 60))
			}
			return &CommandResult{Content: b.String(), Data: runs}, nil
		},
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
