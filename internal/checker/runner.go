// Package checker runs the external checker executables. Checkers are
// untrusted, arbitrarily slow subprocesses; the runner bounds their
// concurrency, their runtime and how much output they can hand back.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/adarena/backend/internal/models"
)

// maxCapture caps each of stdout and stderr at capture time. The database
// layer truncates further on persist.
const maxCapture = 1024

// termGrace is how long a checker gets between SIGTERM and SIGKILL.
const termGrace = 3 * time.Second

// Argv builds the checker command line. flag is nil for CHECK.
//
//	check: <checker> check <ip>
//	put:   <checker> put <ip> <private_flag_data> <flag> <vuln_number>
//	get:   <checker> get <ip> <private_flag_data> <flag> <vuln_number>
func Argv(task *models.Task, action models.Action, ip string, flag *models.Flag) []string {
	switch action {
	case models.ActionCheck:
		return []string{task.Checker, string(models.ActionCheck), ip}
	default:
		return []string{task.Checker, string(action), ip,
			flag.PrivateFlagData, flag.Flag, strconv.Itoa(flag.VulnNumber)}
	}
}

// Runner executes checkers under a global concurrency cap, shared by all
// handler goroutines of a worker process.
type Runner struct {
	slots chan struct{}
	log   *slog.Logger
}

func NewRunner(maxConcurrent int, log *slog.Logger) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		slots: make(chan struct{}, maxConcurrent),
		log:   log,
	}
}

// Run executes one checker action and always produces a verdict; process
// failures become statuses, never errors. Blocks while all slots are taken.
func (r *Runner) Run(ctx context.Context, task *models.Task, action models.Action, ip string, flag *models.Flag) models.CheckerVerdict {
	argv := Argv(task, action, ip, flag)
	verdict := models.CheckerVerdict{
		Action:  action,
		Command: QuoteCommand(argv),
	}

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		verdict.Status = models.StatusCheckFailed
		verdict.PrivateMessage = "checker slot wait cancelled: " + ctx.Err().Error()
		return verdict
	}

	timeout := time.Duration(task.CheckerTimeout) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = checkerEnv(task.EnvPath)
	// SIGTERM first so checkers can clean up sessions; SIGKILL after the
	// grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = termGrace

	stdout := newCappedBuffer(maxCapture)
	stderr := newCappedBuffer(maxCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	verdict.PublicMessage = stdout.String()
	verdict.PrivateMessage = stderr.String()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		verdict.Status = models.StatusDown
		verdict.PublicMessage = "Checker timed out"
		verdict.PrivateMessage = fmt.Sprintf("timeout after %s; stderr: %s", timeout, stderr.String())
	case err == nil:
		// Exit 0 is outside the contract: statuses are the exit code.
		verdict.Status = models.StatusCheckFailed
		verdict.PrivateMessage = "checker exited 0; stderr: " + stderr.String()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			verdict.Status = models.StatusFromExitCode(exitErr.ExitCode())
		} else {
			verdict.Status = models.StatusCheckFailed
			verdict.PrivateMessage = "checker failed to start: " + err.Error()
		}
	}

	r.log.Debug("checker finished",
		"task", task.Name, "action", action, "ip", ip,
		"status", verdict.Status.String(), "elapsed", elapsed)
	return verdict
}

// checkerEnv prepends envPath to PATH so task-local toolchains win.
func checkerEnv(envPath string) []string {
	env := os.Environ()
	if envPath == "" {
		return env
	}
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			out = append(out, "PATH="+envPath+":"+kv[5:])
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+envPath)
	}
	return out
}

// cappedBuffer keeps the first cap bytes and silently drops the rest.
type cappedBuffer struct {
	cap int
	buf []byte
}

func newCappedBuffer(cap int) *cappedBuffer {
	return &cappedBuffer{cap: cap}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.cap - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }
