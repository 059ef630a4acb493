// ABOUTME: Command execution for dispatch-agent
// ABOUTME: Runs built-ins in process and everything else through sh -c with a timeout

package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const systemInfoCommand = "systeminfo"

// runner executes dispatched commands.
type runner struct {
	shell   string
	timeout time.Duration
}

// Run executes cmd and returns its combined output and whether it failed.
func (r *runner) Run(ctx context.Context, cmd string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if strings.EqualFold(strings.TrimSpace(cmd), systemInfoCommand) {
		return systemInfo(ctx), false
	}

	out, err := exec.CommandContext(ctx, r.shell, "-c", cmd).CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Sprintf("%scommand timed out after %s", out, r.timeout), true
		}
		if len(out) == 0 {
			return err.Error(), true
		}
		return string(out), true
	}
	return string(out), false
}
