package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/specq-dev/specq/internal/ctxlog"
)

// Well-known file locations under the project root.
const (
	Dir            = ".specq"
	SharedFile     = "config.hcl"
	PersonalFile   = "local.config.hcl"
	StateFile      = "state.db"
	StateLockFile  = "state.lock"
	DefaultChanges = "changes"
)

// fileConfig is the raw HCL schema of one config layer. Every field is
// optional so a layer may state only what it overrides.
type fileConfig struct {
	ChangesDir *string `hcl:"changes_dir,optional"`
	BaseBranch *string `hcl:"base_branch,optional"`

	Compiler     *compilerBlock     `hcl:"compiler,block"`
	Executor     *executorBlock     `hcl:"executor,block"`
	Verification *verificationBlock `hcl:"verification,block"`
	RiskPolicy   *riskPolicyBlock   `hcl:"risk_policy,block"`
	Budgets      *budgetsBlock      `hcl:"budgets,block"`
	Notify       *notifyBlock       `hcl:"notify,block"`
	Providers    *providersBlock    `hcl:"providers,block"`
}

type compilerBlock struct {
	Provider *string `hcl:"provider,optional"`
	Model    *string `hcl:"model,optional"`
}

type executorBlock struct {
	Type     *string `hcl:"type,optional"`
	Model    *string `hcl:"model,optional"`
	MaxTurns *int    `hcl:"max_turns,optional"`
}

type verificationBlock struct {
	Voters []voterBlock `hcl:"voter,block"`
	Checks []string     `hcl:"checks,optional"`
}

type voterBlock struct {
	Provider string `hcl:"provider"`
	Model    string `hcl:"model"`
}

// riskPolicyBlock keeps the per-level values as unevaluated expressions:
// each entry may be a bare strategy name or a parameterized object, and the
// distinction is only resolvable by inspecting the cty value.
type riskPolicyBlock struct {
	Low    hcl.Expression `hcl:"low,optional"`
	Medium hcl.Expression `hcl:"medium,optional"`
	High   hcl.Expression `hcl:"high,optional"`
}

type budgetsBlock struct {
	MaxRetries     *int `hcl:"max_retries,optional"`
	MaxDurationSec *int `hcl:"max_duration_sec,optional"`
	MaxTurns       *int `hcl:"max_turns,optional"`
	DailyTaskLimit *int `hcl:"daily_task_limit,optional"`
}

type notifyBlock struct {
	WebhookURL *string  `hcl:"webhook_url,optional"`
	Events     []string `hcl:"events,optional"`
}

type providersBlock struct {
	Anthropic *credsBlock `hcl:"anthropic,block"`
	OpenAI    *credsBlock `hcl:"openai,block"`
	Google    *credsBlock `hcl:"google,block"`
}

type credsBlock struct {
	APIKey *string `hcl:"api_key,optional"`
}

// Load merges the three configuration layers for the project rooted at root.
// Missing files are fine; a malformed file is a fatal configuration error.
func Load(ctx context.Context, root string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	cfg := Default(root)

	for _, name := range []string{SharedFile, PersonalFile} {
		path := filepath.Join(root, Dir, name)
		raw, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			logger.Debug("Config layer absent, skipping.", "path", path)
			continue
		}
		if err := applyLayer(cfg, raw); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logger.Debug("Config layer applied.", "path", path)
	}

	applyEnv(cfg)

	if cfg.ChangesDir == "" {
		cfg.ChangesDir = DetectChangesDir(root)
	}
	return cfg, nil
}

// parseFile parses one HCL layer, returning nil when the file does not exist.
func parseFile(path string) (*fileConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	var raw fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}
	return &raw, nil
}

// applyLayer merges one parsed layer into cfg, field-wise: stated values
// replace, absent values keep the prior layer. Lists replace wholesale.
func applyLayer(cfg *Config, raw *fileConfig) error {
	setString(&cfg.ChangesDir, raw.ChangesDir)
	setString(&cfg.BaseBranch, raw.BaseBranch)

	if b := raw.Compiler; b != nil {
		setString(&cfg.Compiler.Provider, b.Provider)
		setString(&cfg.Compiler.Model, b.Model)
	}
	if b := raw.Executor; b != nil {
		setString(&cfg.Executor.Type, b.Type)
		setString(&cfg.Executor.Model, b.Model)
		setInt(&cfg.Executor.MaxTurns, b.MaxTurns)
	}
	if b := raw.Verification; b != nil {
		if len(b.Voters) > 0 {
			cfg.Verification.Voters = cfg.Verification.Voters[:0]
			for _, v := range b.Voters {
				cfg.Verification.Voters = append(cfg.Verification.Voters, VoterEntry{
					Provider: v.Provider,
					Model:    v.Model,
				})
			}
		}
		if b.Checks != nil {
			cfg.Verification.Checks = b.Checks
		}
	}
	if b := raw.RiskPolicy; b != nil {
		if err := applyRiskPolicy(cfg, b); err != nil {
			return err
		}
	}
	if b := raw.Budgets; b != nil {
		setInt(&cfg.Budgets.MaxRetries, b.MaxRetries)
		if b.MaxDurationSec != nil {
			cfg.Budgets.MaxDuration = time.Duration(*b.MaxDurationSec) * time.Second
		}
		setInt(&cfg.Budgets.MaxTurns, b.MaxTurns)
		setInt(&cfg.Budgets.DailyTaskLimit, b.DailyTaskLimit)
	}
	if b := raw.Notify; b != nil {
		setString(&cfg.Notify.WebhookURL, b.WebhookURL)
		if b.Events != nil {
			cfg.Notify.Events = b.Events
		}
	}
	if b := raw.Providers; b != nil {
		applyCreds(cfg, "anthropic", b.Anthropic)
		applyCreds(cfg, "openai", b.OpenAI)
		applyCreds(cfg, "google", b.Google)
	}
	return nil
}

func applyCreds(cfg *Config, provider string, b *credsBlock) {
	if b == nil || b.APIKey == nil {
		return
	}
	cfg.Providers[provider] = ProviderCreds{APIKey: *b.APIKey}
}

// applyEnv is the highest-precedence layer: credentials from the
// environment override anything from the files.
func applyEnv(cfg *Config) {
	for env, provider := range map[string]string{
		"ANTHROPIC_API_KEY": "anthropic",
		"OPENAI_API_KEY":    "openai",
		"GOOGLE_API_KEY":    "google",
	} {
		if v := os.Getenv(env); v != "" {
			cfg.Providers[provider] = ProviderCreds{APIKey: v}
		}
	}
	if v := os.Getenv("SPECQ_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}

// DetectChangesDir prefers openspec/changes when the project uses OpenSpec
// layout, falling back to changes/.
func DetectChangesDir(root string) string {
	openspec := filepath.Join(root, "openspec", "changes")
	if info, err := os.Stat(openspec); err == nil && info.IsDir() {
		return filepath.Join("openspec", "changes")
	}
	return DefaultChanges
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
