package procmon

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is one row of the process table.
type Process struct {
	PID     int32
	Cmdline string
}

// Snapshotter enumerates the process table. An error means the table
// could not be read at all; it never means "no processes".
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]Process, error)
}

// SystemSnapshotter reads the real process table via gopsutil.
type SystemSnapshotter struct{}

func (SystemSnapshotter) Snapshot(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("procmon: list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// Processes exit between listing and reading, and kernel
			// threads have no command line. Neither can match a pattern.
			continue
		}
		out = append(out, Process{PID: p.Pid, Cmdline: cmdline})
	}
	return out, nil
}
