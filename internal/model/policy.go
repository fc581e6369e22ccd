package model

// Strategy names a verification strategy.
type Strategy string

const (
	StrategySkip      Strategy = "skip"
	StrategyMajority  Strategy = "majority"
	StrategyUnanimous Strategy = "unanimous"
)

// RiskPolicy is the tagged variant resolved from configuration: a bare
// strategy name, or a parameterized form for unanimous voting.
type RiskPolicy struct {
	Strategy Strategy
	// RequireConfirmation gates unanimous acceptance behind an explicit human
	// confirmation. It has no effect for skip or majority.
	RequireConfirmation bool
	// ExpectedVoters is the configured voter count for this run. Unanimous
	// approval requires a response from every one of them.
	ExpectedVoters int
	// Confirmed records that human confirmation has been granted for the
	// current attempt.
	Confirmed bool
}

// SkipPolicy is the policy that approves without invoking any voter.
func SkipPolicy() RiskPolicy {
	return RiskPolicy{Strategy: StrategySkip}
}

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategySkip, StrategyMajority, StrategyUnanimous:
		return true
	default:
		return false
	}
}
