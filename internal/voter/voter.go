// Package voter runs independent model reviews of a change diff and collects
// their votes. Voters run in parallel and are isolated from each other: one
// voter failing or timing out becomes a non-response vote, never an aborted
// attempt.
package voter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/model"
	"github.com/specq-dev/specq/internal/provider"
)

// maxDiffBytes truncates very large diffs before prompting.
const maxDiffBytes = 50000

// Request is the material one voter reviews.
type Request struct {
	Diff         string
	Proposal     string
	ProjectRules string
	Checks       []string
}

// Voter is one independent reviewer.
type Voter interface {
	Name() string
	Review(ctx context.Context, req Request) (model.Vote, error)
}

// VoterUnavailable marks a voter that could not produce a judgement. The
// aggregator treats it as a non-response.
type VoterUnavailable struct {
	Voter string
	Err   error
}

func (e *VoterUnavailable) Error() string {
	return fmt.Sprintf("voter %s unavailable: %v", e.Voter, e.Err)
}

func (e *VoterUnavailable) Unwrap() error { return e.Err }

const systemPrompt = `You are a code reviewer. Compare the git diff against
the original proposal and judge whether the implementation conforms.

Reply with JSON (not wrapped in a markdown code block):
{
  "verdict": "pass" or "fail",
  "confidence": 0.0-1.0,
  "findings": [
    {"severity": "info|warning|critical", "category": "spec_compliance|regression_risk|architecture", "description": "..."}
  ],
  "summary": "one-line summary"
}`

// LLM reviews through a text-generation backend.
type LLM struct {
	Gen provider.TextGen
}

func (v *LLM) Name() string { return v.Gen.Name() }

func (v *LLM) Review(ctx context.Context, req Request) (model.Vote, error) {
	var b strings.Builder
	diff := req.Diff
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes]
	}
	fmt.Fprintf(&b, "## Git Diff\n```\n%s\n```\n\n", diff)
	fmt.Fprintf(&b, "## Original Proposal\n%s\n\n", req.Proposal)
	if req.ProjectRules != "" {
		fmt.Fprintf(&b, "## Project Rules\n%s\n\n", req.ProjectRules)
	}
	if len(req.Checks) > 0 {
		b.WriteString("## Required Checks\n")
		for _, c := range req.Checks {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	raw, err := v.Gen.Chat(ctx, systemPrompt, b.String())
	if err != nil {
		return model.Vote{}, &VoterUnavailable{Voter: v.Name(), Err: err}
	}
	return ParseVote(raw, v.Name()), nil
}

// voteResponse is the JSON shape voters are asked to produce.
type voteResponse struct {
	Verdict    string          `json:"verdict"`
	Confidence float64         `json:"confidence"`
	Findings   []model.Finding `json:"findings"`
	Summary    string          `json:"summary"`
}

// ParseVote decodes a voter's raw reply. Replies that are not valid JSON
// become non-response votes; a verdict outside pass/fail fails closed.
func ParseVote(raw, voterName string) model.Vote {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = stripFence(text)
	}

	vote := model.Vote{Voter: voterName, CastAt: time.Now().UTC()}
	var resp voteResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		vote.Verdict = model.VerdictError
		vote.Summary = "failed to parse voter response as JSON"
		return vote
	}

	verdict := model.Verdict(resp.Verdict)
	if verdict != model.VerdictPass && verdict != model.VerdictFail {
		verdict = model.VerdictFail
	}
	vote.Verdict = verdict
	vote.Confidence = resp.Confidence
	vote.Findings = resp.Findings
	vote.Summary = resp.Summary
	return vote
}

// stripFence removes a surrounding markdown code fence.
func stripFence(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	inside := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inside && strings.HasPrefix(trimmed, "```"):
			inside = true
		case inside && trimmed == "```":
			return strings.Join(out, "\n")
		case inside:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Collect fans the request out to every voter in parallel and returns their
// votes in voter order. A voter error or timeout yields a non-response vote
// in its slot; Collect itself never fails.
func Collect(ctx context.Context, voters []Voter, req Request, perVoterTimeout time.Duration) []model.Vote {
	logger := ctxlog.FromContext(ctx)
	votes := make([]model.Vote, len(voters))

	var wg sync.WaitGroup
	for i, v := range voters {
		wg.Add(1)
		go func(i int, v Voter) {
			defer wg.Done()

			vctx := ctx
			if perVoterTimeout > 0 {
				var cancel context.CancelFunc
				vctx, cancel = context.WithTimeout(ctx, perVoterTimeout)
				defer cancel()
			}

			vote, err := v.Review(vctx, req)
			if err != nil {
				logger.Warn("Voter did not respond.", "voter", v.Name(), "error", err)
				vote = model.Vote{
					Voter:   v.Name(),
					Verdict: model.VerdictError,
					Summary: err.Error(),
					CastAt:  time.Now().UTC(),
				}
			}
			votes[i] = vote
		}(i, v)
	}
	wg.Wait()
	return votes
}
