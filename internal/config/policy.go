package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/specq-dev/specq/internal/model"
)

// applyRiskPolicy resolves the polymorphic risk_policy entries. Each entry is
// either a bare strategy name ("skip") or an object
// ({ strategy = "unanimous", require_confirmation = true }).
func applyRiskPolicy(cfg *Config, b *riskPolicyBlock) error {
	for risk, expr := range map[model.Risk]hcl.Expression{
		model.RiskLow:    b.Low,
		model.RiskMedium: b.Medium,
		model.RiskHigh:   b.High,
	} {
		entry, set, err := decodePolicyExpr(expr)
		if err != nil {
			return fmt.Errorf("risk_policy.%s: %w", risk, err)
		}
		if set {
			cfg.RiskPolicy[risk] = entry
		}
	}
	return nil
}

// decodePolicyExpr evaluates one risk_policy expression and inspects its cty
// type to pick the variant. set is false when the attribute was absent.
func decodePolicyExpr(expr hcl.Expression) (entry PolicyEntry, set bool, err error) {
	if expr == nil {
		return PolicyEntry{}, false, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return PolicyEntry{}, false, diags
	}
	if val.IsNull() {
		return PolicyEntry{}, false, nil
	}

	switch {
	case val.Type() == cty.String:
		entry.Strategy = model.Strategy(val.AsString())

	case val.Type().IsObjectType():
		if !val.Type().HasAttribute("strategy") {
			return PolicyEntry{}, false, fmt.Errorf("object form requires a strategy attribute")
		}
		strat := val.GetAttr("strategy")
		if strat.Type() != cty.String {
			return PolicyEntry{}, false, fmt.Errorf("strategy must be a string")
		}
		entry.Strategy = model.Strategy(strat.AsString())

		if val.Type().HasAttribute("require_confirmation") {
			rc := val.GetAttr("require_confirmation")
			if rc.Type() != cty.Bool {
				return PolicyEntry{}, false, fmt.Errorf("require_confirmation must be a bool")
			}
			entry.RequireConfirmation = rc.True()
		}

	default:
		return PolicyEntry{}, false, fmt.Errorf("expected a strategy name or an object, got %s", val.Type().FriendlyName())
	}

	if !model.ValidStrategy(entry.Strategy) {
		return PolicyEntry{}, false, fmt.Errorf("unknown strategy %q", entry.Strategy)
	}
	return entry, true, nil
}

// ResolvePolicy returns the effective risk policy for one work item: the
// item's own verification override shadows the risk mapping, and the
// configured voter panel fixes the expected participation.
func (c *Config) ResolvePolicy(item *model.WorkItem) model.RiskPolicy {
	entry, ok := c.RiskPolicy[item.Risk]
	if !ok {
		entry = c.RiskPolicy[model.RiskMedium]
	}
	if ov := item.Overrides.Verification; ov != "" && model.ValidStrategy(model.Strategy(ov)) {
		entry = PolicyEntry{Strategy: model.Strategy(ov), RequireConfirmation: entry.RequireConfirmation}
	}
	return model.RiskPolicy{
		Strategy:            entry.Strategy,
		RequireConfirmation: entry.RequireConfirmation,
		ExpectedVoters:      len(c.Verification.Voters),
	}
}

// ResolveMaxTurns applies the item's max-turns override over the executor
// default.
func (c *Config) ResolveMaxTurns(item *model.WorkItem) int {
	if item.Overrides.MaxTurns > 0 {
		return item.Overrides.MaxTurns
	}
	return c.Executor.MaxTurns
}

// ResolveExecutor applies the item's executor overrides over the configured
// backend.
func (c *Config) ResolveExecutor(item *model.WorkItem) ExecutorConfig {
	ex := c.Executor
	if item.Overrides.ExecutorType != "" {
		ex.Type = item.Overrides.ExecutorType
	}
	if item.Overrides.ExecutorModel != "" {
		ex.Model = item.Overrides.ExecutorModel
	}
	ex.MaxTurns = c.ResolveMaxTurns(item)
	return ex
}
