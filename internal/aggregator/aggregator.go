// Package aggregator converts the independent votes of one verification
// attempt into a single disposition under the item's risk policy. The
// decision is a pure function of (votes, policy): deterministic and
// auditable even though the votes themselves come from probabilistic
// reviewers.
//
// A voter that errored or timed out is a non-response: it reduces the
// denominator and counts toward neither pass nor fail. An unreached voter is
// never assumed to pass.
package aggregator

import "github.com/specq-dev/specq/internal/model"

// Aggregate returns the disposition for the votes cast in one attempt.
//
//   - skip: always approved; the voters were never invoked.
//   - majority: approved iff strictly more than half of the cast votes are
//     pass. An exact tie, or zero cast votes, rejects (fail closed). A
//     critical finding on an otherwise approved outcome escalates to
//     needs_review.
//   - unanimous: any single fail rejects immediately. All-pass with full
//     configured participation approves, gated on human confirmation when the
//     policy requires it. All-pass with voters missing stays in needs_review.
func Aggregate(votes []model.Vote, policy model.RiskPolicy) model.Disposition {
	if policy.Strategy == model.StrategySkip {
		return model.DispositionApproved
	}

	var pass, fail int
	for _, v := range votes {
		switch v.Verdict {
		case model.VerdictPass:
			pass++
		case model.VerdictFail:
			fail++
		}
	}
	cast := pass + fail

	switch policy.Strategy {
	case model.StrategyUnanimous:
		if fail > 0 {
			return model.DispositionRejected
		}
		if cast == 0 && policy.ExpectedVoters == 0 {
			// Nothing to verify with: fail closed rather than approve on
			// an empty panel.
			return model.DispositionRejected
		}
		if cast < policy.ExpectedVoters {
			return model.DispositionNeedsReview
		}
		if policy.RequireConfirmation && !policy.Confirmed {
			return model.DispositionNeedsReview
		}
		return model.DispositionApproved

	default: // majority
		if pass*2 <= cast {
			return model.DispositionRejected
		}
		if hasCritical(votes) {
			return model.DispositionNeedsReview
		}
		return model.DispositionApproved
	}
}

func hasCritical(votes []model.Vote) bool {
	for _, v := range votes {
		for _, f := range v.Findings {
			if f.Severity == model.SeverityCritical {
				return true
			}
		}
	}
	return false
}
