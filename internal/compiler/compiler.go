// Package compiler turns a proposal plus accumulated context into a focused
// task brief for the executor. The passthrough backend formats the context
// directly; the LLM backend asks a model to distill it.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/specq-dev/specq/internal/model"
	"github.com/specq-dev/specq/internal/provider"
)

// Request carries everything the compiler may fold into a brief.
type Request struct {
	Proposal string
	AllTasks []string
	Task     model.Task
	// PrevResults are the already-accepted tasks of the same change.
	PrevResults  []model.Task
	ProjectRules string
	// RetryFindings are the rejection findings from the previous verification
	// attempt, present only on a retry.
	RetryFindings []model.Finding
}

// Compiler produces one task brief per request.
type Compiler interface {
	Compile(ctx context.Context, req Request) (string, error)
}

// CompilationError marks a brief that could not be produced. The pipeline
// treats it as a stage failure subject to the retry budget.
type CompilationError struct {
	Task string
	Err  error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compiling brief for %s: %v", e.Task, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

const systemPrompt = `You are a tech lead briefing a developer. From the
proposal, task list, and context provided, produce precise execution
instructions for the current task.

Output format:

## Task: {task title}
{one-line goal}

### Context
{what was done before and how it relates to this task}

### Requirements
{concrete implementation requirements, extracted from the proposal}

### Constraints
{conventions and limits to respect}

### Interfaces
{which modules this task touches}`

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("## Proposal\n")
	b.WriteString(req.Proposal)
	b.WriteString("\n\n## All Tasks\n")
	for i, t := range req.AllTasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	fmt.Fprintf(&b, "\n## Current Task\nID: %s\nTitle: %s\nDescription: %s\n",
		req.Task.ID, req.Task.Title, req.Task.Description)

	if len(req.PrevResults) > 0 {
		b.WriteString("\n## Previous Task Results\n")
		for _, prev := range req.PrevResults {
			files := "none"
			if len(prev.FilesChanged) > 0 {
				files = strings.Join(prev.FilesChanged, ", ")
			}
			fmt.Fprintf(&b, "- %s (%s): files=%s, commit=%s\n", prev.ID, prev.Title, files, prev.CommitHash)
		}
	}
	if req.ProjectRules != "" {
		fmt.Fprintf(&b, "\n## Project Rules\n%s\n", req.ProjectRules)
	}
	if len(req.RetryFindings) > 0 {
		b.WriteString("\n## Previous Review Findings (must fix)\n")
		for _, f := range req.RetryFindings {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Category, f.Description)
		}
	}
	return b.String()
}

// Passthrough formats the request into a brief without any model call. Used
// when compiler.provider is "none".
type Passthrough struct{}

func (Passthrough) Compile(_ context.Context, req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task: %s\n%s\n\n", req.Task.Title, req.Task.Description)
	b.WriteString("## Proposal\n")
	b.WriteString(req.Proposal)
	b.WriteString("\n\n")

	if len(req.AllTasks) > 1 {
		b.WriteString("## All Tasks\n")
		for i, t := range req.AllTasks {
			marker := ""
			if t == req.Task.Title {
				marker = " (current)"
			}
			fmt.Fprintf(&b, "%d. %s%s\n", i+1, t, marker)
		}
		b.WriteString("\n")
	}
	if len(req.PrevResults) > 0 {
		b.WriteString("## Completed Tasks\n")
		for _, prev := range req.PrevResults {
			files := "none"
			if len(prev.FilesChanged) > 0 {
				files = strings.Join(prev.FilesChanged, ", ")
			}
			fmt.Fprintf(&b, "- %s (%s): files=%s\n", prev.ID, prev.Title, files)
		}
		b.WriteString("\n")
	}
	if req.ProjectRules != "" {
		fmt.Fprintf(&b, "## Project Rules\n%s\n\n", req.ProjectRules)
	}
	if len(req.RetryFindings) > 0 {
		b.WriteString("## Previous Review Findings (must fix)\n")
		for _, f := range req.RetryFindings {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Category, f.Description)
		}
	}
	return b.String(), nil
}

// LLM compiles briefs with a text-generation backend.
type LLM struct {
	Gen provider.TextGen
}

func (c *LLM) Compile(ctx context.Context, req Request) (string, error) {
	brief, err := c.Gen.Chat(ctx, systemPrompt, buildPrompt(req))
	if err != nil {
		return "", &CompilationError{Task: req.Task.ID, Err: err}
	}
	return brief, nil
}
