package model

import "time"

// Verdict is a single voter's judgement.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	// VerdictError marks a voter that could not produce a judgement. It is a
	// non-response: it counts toward neither pass nor fail.
	VerdictError Verdict = "error"
)

// Severity classifies a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one structured per-check observation from a voter.
type Finding struct {
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    string   `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description"`
}

// Vote is one voter's immutable review of one verification attempt.
type Vote struct {
	Voter      string    `json:"voter"`
	Verdict    Verdict   `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Findings   []Finding `json:"findings,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	CastAt     time.Time `json:"cast_at"`
}

// Responded reports whether the vote counts toward the denominator.
func (v Vote) Responded() bool {
	return v.Verdict == VerdictPass || v.Verdict == VerdictFail
}

// Disposition is the aggregated outcome of one verification attempt.
type Disposition string

const (
	DispositionApproved    Disposition = "approved"
	DispositionRejected    Disposition = "rejected"
	DispositionNeedsReview Disposition = "needs_review"
)

// VerificationAttempt is an immutable snapshot of one pass through the
// verification stage. Votes may be fewer than the configured voter count when
// some voters did not respond in time.
type VerificationAttempt struct {
	Attempt     int         `json:"attempt"`
	Risk        Risk        `json:"risk"`
	Strategy    string      `json:"strategy"`
	Disposition Disposition `json:"disposition"`
	Votes       []Vote      `json:"votes"`
	DecidedAt   time.Time   `json:"decided_at"`
}

// Findings flattens every finding from every vote in the attempt, in vote
// order. Rejection findings feed the next compilation retry.
func (a *VerificationAttempt) AllFindings() []Finding {
	var out []Finding
	for _, v := range a.Votes {
		out = append(out, v.Findings...)
	}
	return out
}
