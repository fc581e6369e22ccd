package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/specq-dev/specq/internal/compiler"
	"github.com/specq-dev/specq/internal/config"
	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/executor"
	"github.com/specq-dev/specq/internal/gitops"
	"github.com/specq-dev/specq/internal/notifier"
	"github.com/specq-dev/specq/internal/pipeline"
	"github.com/specq-dev/specq/internal/provider"
	"github.com/specq-dev/specq/internal/store"
	"github.com/specq-dev/specq/internal/voter"
)

// Options configures one App instance.
type Options struct {
	ProjectRoot string
	LogLevel    string
	LogFormat   string
	LogOut      io.Writer
}

// App holds the loaded configuration and the run-scoped logger.
type App struct {
	Config *config.Config
	Logger *slog.Logger
}

// New loads the project configuration and builds an isolated logger.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := newLogger(opts.LogLevel, opts.LogFormat, opts.LogOut)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	cfg, err := config.Load(ctx, opts.ProjectRoot)
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Logger: logger}, nil
}

// Context attaches the app logger to ctx for the collaborators downstream.
func (a *App) Context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.Logger)
}

// StateDir is where the store keeps its database and lock.
func (a *App) StateDir() string {
	return filepath.Join(a.Config.ProjectRoot, config.Dir)
}

// OpenStore opens the project's state store, acquiring the project lock.
func (a *App) OpenStore(ctx context.Context) (*store.Store, error) {
	return store.Open(a.Context(ctx), a.StateDir())
}

// NewPipeline assembles a pipeline from the configured collaborators.
func (a *App) NewPipeline(st *store.Store) *pipeline.Pipeline {
	git := gitops.New(a.Config.ProjectRoot)
	return &pipeline.Pipeline{
		Config:   a.Config,
		Store:    st,
		Compiler: a.newCompiler(),
		Executor: &executor.CLIAgent{Git: git},
		Voters:   a.newVoters(),
		Notifier: &notifier.Notifier{
			WebhookURL: a.Config.Notify.WebhookURL,
			Events:     a.Config.Notify.Events,
		},
		Diff: git,
	}
}

func (a *App) newCompiler() compiler.Compiler {
	c := a.Config.Compiler
	switch {
	case c.Provider == "" || c.Provider == "none":
		return compiler.Passthrough{}
	case c.Provider == "claude_code":
		return &compiler.LLM{Gen: &provider.CLITextGen{Model: c.Model}}
	default:
		return &compiler.LLM{Gen: &provider.HTTPTextGen{
			Provider: c.Provider,
			Model:    c.Model,
			APIKey:   a.Config.APIKey(c.Provider),
		}}
	}
}

func (a *App) newVoters() []voter.Voter {
	var voters []voter.Voter
	for _, v := range a.Config.Verification.Voters {
		if v.Provider == "" || v.Model == "" {
			continue
		}
		if v.Provider == "claude_code" {
			voters = append(voters, &voter.LLM{Gen: &provider.CLITextGen{Model: v.Model}})
			continue
		}
		voters = append(voters, &voter.LLM{Gen: &provider.HTTPTextGen{
			Provider: v.Provider,
			Model:    v.Model,
			APIKey:   a.Config.APIKey(v.Provider),
		}})
	}
	return voters
}
