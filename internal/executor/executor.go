// Package executor runs one compiled task brief against the working tree
// through a coding-agent CLI. The agent commits its own changes; the executor
// only enforces budgets and reports what happened.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/gitops"
	"github.com/specq-dev/specq/internal/model"
)

// Request is one task execution.
type Request struct {
	Item  *model.WorkItem
	Task  model.Task
	Brief string
	// Dir is the working tree the agent operates in.
	Dir         string
	Model       string
	MaxTurns    int
	MaxDuration time.Duration
	Tools       []string
}

// Result is the outcome of one execution.
type Result struct {
	Success      bool
	Output       string
	FilesChanged []string
	CommitHash   string
	TurnsUsed    int
	TokensIn     int
	TokensOut    int
	Duration     time.Duration
}

// Executor is an execution backend.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutionTimeout marks a run that exceeded its duration budget.
type ExecutionTimeout struct {
	Task    string
	Elapsed time.Duration
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("executing %s: timed out after %s", e.Task, e.Elapsed.Round(time.Second))
}

// ExecutionError marks a run that failed for any other reason.
type ExecutionError struct {
	Task string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Task, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// defaultTools is the agent tool allowlist when the change declares none.
var defaultTools = []string{"Bash", "Read", "Write", "Edit", "Glob", "Grep", "TodoRead", "TodoWrite"}

// CLIAgent drives a local coding-agent CLI (claude by default) in
// non-interactive print mode. The agent authenticates through its own login,
// so no API key passes through here.
type CLIAgent struct {
	// Command is the agent binary, "claude" when empty.
	Command string
	Git     *gitops.Client
}

func (a *CLIAgent) Name() string { return "claude_code" }

// agentOutput is the JSON envelope the agent prints with --output-format json.
type agentOutput struct {
	Result   string `json:"result"`
	NumTurns int    `json:"num_turns"`
	IsError  bool   `json:"is_error"`
	Usage    struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *CLIAgent) Execute(ctx context.Context, req Request) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	if req.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.MaxDuration)
		defer cancel()
	}

	tools := req.Tools
	if len(tools) == 0 {
		tools = defaultTools
	}
	command := a.Command
	if command == "" {
		command = "claude"
	}

	args := []string{
		"-p",
		"--output-format", "json",
		"--model", req.Model,
		"--max-turns", strconv.Itoa(req.MaxTurns),
		"--allowedTools", strings.Join(tools, ","),
		"--append-system-prompt", fmt.Sprintf(
			"Commit your changes when done. Commit message format: feat(%s): {description}",
			req.Item.ID,
		),
	}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = req.Dir
	cmd.Stdin = strings.NewReader(req.Brief)

	logger.Debug("Dispatching agent.", "task", req.Task.ID, "model", req.Model, "max_turns", req.MaxTurns)
	raw, runErr := cmd.Output()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Output: string(raw), Duration: elapsed},
			&ExecutionTimeout{Task: req.Task.ID, Elapsed: elapsed}
	}

	res := Result{Duration: elapsed, Output: string(raw)}
	var parsed agentOutput
	if err := json.Unmarshal(raw, &parsed); err == nil {
		res.Output = parsed.Result
		res.TurnsUsed = parsed.NumTurns
		res.TokensIn = parsed.Usage.InputTokens
		res.TokensOut = parsed.Usage.OutputTokens
		if parsed.IsError && runErr == nil {
			runErr = errors.New(parsed.Result)
		}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && len(exitErr.Stderr) > 0 {
			runErr = fmt.Errorf("%w: %s", runErr, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return res, &ExecutionError{Task: req.Task.ID, Err: runErr}
	}

	res.Success = true
	if a.Git != nil {
		if files, err := a.Git.ChangedFiles(ctx); err == nil {
			res.FilesChanged = files
		}
		res.CommitHash = a.Git.LatestCommit(ctx)
	}
	return res, nil
}
