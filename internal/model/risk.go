package model

// Risk is the declared risk level of a change.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// riskOrder ranks risks for scheduling: cheap low-risk work drains first.
var riskOrder = map[Risk]int{
	RiskLow:    0,
	RiskMedium: 1,
	RiskHigh:   2,
}

// Order returns the scheduling rank of the risk, lowest first. Unknown values
// rank as medium.
func (r Risk) Order() int {
	if o, ok := riskOrder[r]; ok {
		return o
	}
	return riskOrder[RiskMedium]
}

// Valid reports whether r is one of the three declared levels.
func (r Risk) Valid() bool {
	_, ok := riskOrder[r]
	return ok
}
