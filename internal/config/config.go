package config

import (
	"time"

	"github.com/specq-dev/specq/internal/model"
)

// CompilerConfig selects the context-compiler collaborator.
type CompilerConfig struct {
	Provider string
	Model    string
}

// ExecutorConfig selects the execution backend and its budgets.
type ExecutorConfig struct {
	Type     string
	Model    string
	MaxTurns int
}

// VoterEntry names one configured reviewer.
type VoterEntry struct {
	Provider string
	Model    string
}

// Name returns the voter's identity as recorded on votes.
func (v VoterEntry) Name() string {
	return v.Provider + "/" + v.Model
}

// VerificationConfig holds the voter panel and the checks each voter runs.
type VerificationConfig struct {
	Voters []VoterEntry
	Checks []string
}

// PolicyEntry is one risk level's verification policy as configured: either a
// bare strategy name or a parameterized unanimous form.
type PolicyEntry struct {
	Strategy            model.Strategy
	RequireConfirmation bool
}

// BudgetsConfig bounds a run.
type BudgetsConfig struct {
	MaxRetries     int
	MaxDuration    time.Duration
	MaxTurns       int
	DailyTaskLimit int
}

// NotifyConfig configures outbound webhook notifications.
type NotifyConfig struct {
	WebhookURL string
	Events     []string
}

// ProviderCreds holds credentials for one LLM provider.
type ProviderCreds struct {
	APIKey string
}

// Config is the fully merged configuration for one project.
type Config struct {
	ProjectRoot string
	ChangesDir  string
	BaseBranch  string

	Compiler     CompilerConfig
	Executor     ExecutorConfig
	Verification VerificationConfig
	RiskPolicy   map[model.Risk]PolicyEntry
	Budgets      BudgetsConfig
	Notify       NotifyConfig
	Providers    map[string]ProviderCreds
}

// Default returns the baseline configuration before any layer is applied.
func Default(projectRoot string) *Config {
	return &Config{
		ProjectRoot: projectRoot,
		BaseBranch:  "main",
		Compiler: CompilerConfig{
			Provider: "anthropic",
			Model:    "claude-haiku-4-5",
		},
		Executor: ExecutorConfig{
			Type:     "claude_code",
			Model:    "claude-sonnet-4-5",
			MaxTurns: 50,
		},
		Verification: VerificationConfig{
			Checks: []string{"spec_compliance", "regression_risk", "architecture"},
		},
		RiskPolicy: map[model.Risk]PolicyEntry{
			model.RiskLow:    {Strategy: model.StrategySkip},
			model.RiskMedium: {Strategy: model.StrategyMajority},
			model.RiskHigh:   {Strategy: model.StrategyUnanimous},
		},
		Budgets: BudgetsConfig{
			MaxRetries:     3,
			MaxDuration:    10 * time.Minute,
			MaxTurns:       50,
			DailyTaskLimit: 50,
		},
		Notify: NotifyConfig{
			Events: []string{"change.completed", "change.failed", "change.needs_review", "quota.exceeded"},
		},
		Providers: map[string]ProviderCreds{},
	}
}

// APIKey returns the configured key for a provider, or "".
func (c *Config) APIKey(provider string) string {
	return c.Providers[provider].APIKey
}
