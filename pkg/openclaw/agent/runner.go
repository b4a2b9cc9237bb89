// runner.go owns one subprocess per job: spawn, prompt delivery on stdin,
// line-buffered stdout consumption and timeout-triggered termination.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// maxLineBytes bounds a single protocol line. Tool results can embed large
// file contents, so this is generous.
const maxLineBytes = 8 * 1024 * 1024

// Job is one agent invocation, immutable after submission to the queue.
type Job struct {
	// Argv is the full command line, binary first. The runner forces the
	// RPC mode flag into it before spawning.
	Argv []string

	// Dir is the working directory for the subprocess (empty = inherit).
	Dir string

	// Prompt is written once to the subprocess's stdin.
	Prompt string

	// Timeout forcibly terminates the subprocess when exceeded.
	// Zero means no timeout.
	Timeout time.Duration

	// OnLine is invoked synchronously for each complete stdout line as it
	// arrives, enabling partial-reply streaming upstream. May be nil.
	OnLine func(line string)
}

// RunResult is produced exactly once per job.
type RunResult struct {
	Stdout string
	Stderr string

	// ExitCode is nil when the process did not exit normally.
	ExitCode *int

	// Signal names the termination signal, when there was one.
	Signal string

	// Killed is true when the runner forcibly terminated the process
	// because it exceeded the job timeout. Timeout classification beyond
	// that is the caller's responsibility.
	Killed bool
}

// Runner executes agent subprocesses.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner. A nil logger falls back to slog.Default.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger.With("component", "runner")}
}

// Run spawns the job's subprocess and consumes its output until exit or
// timeout. The returned error covers only spawn/setup failures (bad binary,
// pipe errors); subprocess failures are reported through the RunResult.
func (r *Runner) Run(ctx context.Context, job *Job) (RunResult, error) {
	if len(job.Argv) == 0 {
		return RunResult{}, fmt.Errorf("empty argv")
	}
	argv := ForceRPCMode(job.Argv)

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = job.Dir
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("stdout pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start %s: %w", argv[0], err)
	}

	// Deliver the prompt once. Written concurrently so a subprocess that
	// floods stdout before reading stdin can't deadlock the pipes.
	go func() {
		defer stdin.Close()
		prompt := job.Prompt
		if prompt != "" && !strings.HasSuffix(prompt, "\n") {
			prompt += "\n"
		}
		if _, err := stdin.Write([]byte(prompt)); err != nil {
			r.logger.Debug("prompt write failed", "err", err)
		}
	}()

	var captured strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		captured.WriteString(line)
		captured.WriteByte('\n')
		if job.OnLine != nil {
			job.OnLine(line)
		}
	}

	waitErr := cmd.Wait()

	res := RunResult{
		Stdout: captured.String(),
		Stderr: stderr.String(),
		Killed: job.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	if ps := cmd.ProcessState; ps != nil {
		if ps.Exited() {
			code := ps.ExitCode()
			res.ExitCode = &code
		} else if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = ws.Signal().String()
		}
	}

	r.logger.Debug("agent run finished",
		"binary", argv[0],
		"duration", time.Since(start),
		"exit", exitCodeLabel(res.ExitCode),
		"signal", res.Signal,
		"killed", res.Killed,
		"wait_err", waitErr,
	)

	return res, nil
}

func exitCodeLabel(code *int) any {
	if code == nil {
		return "none"
	}
	return *code
}
