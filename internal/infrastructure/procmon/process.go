// Package procmon backs the health controller's "process" and "container"
// probe types and their restart actions, plus the host free-memory check
// ThinkEngine gates on. Grounded on gopsutil/v4 (process/mem) and the
// docker/docker client, both already part of the dependency stack.
package procmon

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// ProcessFinder is a capability.ProcessManager backed by gopsutil: it scans
// the live process table for a command line containing label, and
// kickstarts a named process via a configured shell command.
type ProcessFinder struct {
	kickstartCmds map[string]string // label -> shell command, from ServiceProbe.RestartCmd
	logger        *zap.Logger
}

func NewProcessFinder(kickstartCmds map[string]string, logger *zap.Logger) *ProcessFinder {
	return &ProcessFinder{kickstartCmds: kickstartCmds, logger: logger.With(zap.String("component", "procmon"))}
}

// Find reports the PID of the first running process whose command line
// contains label.
func (p *ProcessFinder) Find(ctx context.Context, label string) (int32, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.CodeInternal, "enumerate processes", err)
	}
	for _, proc := range procs {
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil {
			continue // process exited mid-scan, or permission denied reading /proc
		}
		if strings.Contains(cmdline, label) {
			return proc.Pid, true, nil
		}
	}
	return 0, false, nil
}

// Kickstart runs the shell command configured for label (ServiceProbe's
// RestartCmd) and detaches; it does not wait for the relaunched process to
// become healthy, that's the health controller's verify-after-delay job.
func (p *ProcessFinder) Kickstart(ctx context.Context, label string) error {
	cmdStr, ok := p.kickstartCmds[label]
	if !ok || cmdStr == "" {
		return apperrors.NewConfig(fmt.Sprintf("no restart command configured for %q", label))
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	if err := cmd.Start(); err != nil {
		return apperrors.Wrap(apperrors.CodeDownstream, "kickstart: "+cmdStr, err)
	}
	p.logger.Info("kickstarted process", zap.String("label", label), zap.String("cmd", cmdStr))
	go func() { _ = cmd.Wait() }() // reap without blocking the caller
	return nil
}

// HostResourceProbe is a capability.ResourceProbe backed by gopsutil/v4/mem.
type HostResourceProbe struct{}

func NewHostResourceProbe() *HostResourceProbe { return &HostResourceProbe{} }

func (HostResourceProbe) FreeMemoryMB(ctx context.Context) (int, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "read virtual memory stats", err)
	}
	return int(vm.Available / (1024 * 1024)), nil
}
