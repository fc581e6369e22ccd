package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specq-dev/specq/internal/model"
)

type fakeGen struct {
	reply string
	err   error
	last  struct{ system, user string }
}

func (f *fakeGen) Name() string { return "fake/model" }

func (f *fakeGen) Chat(_ context.Context, system, user string) (string, error) {
	f.last.system, f.last.user = system, user
	return f.reply, f.err
}

func sampleRequest() Request {
	return Request{
		Proposal: "Add token caching to the auth layer.",
		AllTasks: []string{"Add the cache", "Wire the handler"},
		Task:     model.Task{ID: "task-2", Title: "Wire the handler", Description: "Use the cache in the middleware."},
		PrevResults: []model.Task{
			{ID: "task-1", Title: "Add the cache", FilesChanged: []string{"cache.go"}, CommitHash: "abc123"},
		},
		ProjectRules: "No global state.",
	}
}

func TestPassthrough(t *testing.T) {
	brief, err := Passthrough{}.Compile(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Contains(t, brief, "## Task: Wire the handler")
	assert.Contains(t, brief, "Add token caching")
	assert.Contains(t, brief, "Wire the handler (current)")
	assert.Contains(t, brief, "task-1 (Add the cache): files=cache.go")
	assert.Contains(t, brief, "No global state.")
	assert.NotContains(t, brief, "Previous Review Findings")
}

func TestPassthroughRetryFindings(t *testing.T) {
	req := sampleRequest()
	req.RetryFindings = []model.Finding{
		{Severity: model.SeverityCritical, Category: "regression_risk", Description: "cache never invalidated"},
	}
	brief, err := Passthrough{}.Compile(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, brief, "## Previous Review Findings (must fix)")
	assert.Contains(t, brief, "[critical] regression_risk: cache never invalidated")
}

func TestLLMCompile(t *testing.T) {
	gen := &fakeGen{reply: "the brief"}
	c := &LLM{Gen: gen}

	brief, err := c.Compile(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "the brief", brief)
	assert.Contains(t, gen.last.user, "## Current Task")
	assert.Contains(t, gen.last.user, "ID: task-2")
	assert.Contains(t, gen.last.system, "tech lead")
}

func TestLLMCompileError(t *testing.T) {
	c := &LLM{Gen: &fakeGen{err: errors.New("upstream down")}}

	_, err := c.Compile(context.Background(), sampleRequest())
	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "task-2", cerr.Task)
}
