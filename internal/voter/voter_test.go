package voter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specq-dev/specq/internal/model"
)

type fakeGen struct {
	name  string
	reply string
	err   error
	delay time.Duration
}

func (f *fakeGen) Name() string { return f.name }

func (f *fakeGen) Chat(ctx context.Context, _, _ string) (string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.reply, f.err
}

func TestParseVote(t *testing.T) {
	vote := ParseVote(`{
		"verdict": "pass",
		"confidence": 0.85,
		"findings": [{"severity": "warning", "category": "architecture", "description": "tight coupling"}],
		"summary": "looks right"
	}`, "anthropic/claude-sonnet-4-5")

	assert.Equal(t, model.VerdictPass, vote.Verdict)
	assert.Equal(t, 0.85, vote.Confidence)
	require.Len(t, vote.Findings, 1)
	assert.Equal(t, model.SeverityWarning, vote.Findings[0].Severity)
	assert.Equal(t, "looks right", vote.Summary)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", vote.Voter)
}

func TestParseVoteFencedJSON(t *testing.T) {
	vote := ParseVote("```json\n{\"verdict\": \"fail\", \"summary\": \"missing tests\"}\n```", "v")
	assert.Equal(t, model.VerdictFail, vote.Verdict)
	assert.Equal(t, "missing tests", vote.Summary)
}

func TestParseVoteGarbage(t *testing.T) {
	vote := ParseVote("I think it looks fine!", "v")
	assert.Equal(t, model.VerdictError, vote.Verdict)
	assert.False(t, vote.Responded())
}

func TestParseVoteUnknownVerdictFailsClosed(t *testing.T) {
	vote := ParseVote(`{"verdict": "maybe"}`, "v")
	assert.Equal(t, model.VerdictFail, vote.Verdict)
}

func TestLLMReviewPromptAndUnavailable(t *testing.T) {
	gen := &fakeGen{name: "openai/gpt-5", reply: `{"verdict": "pass"}`}
	v := &LLM{Gen: gen}

	vote, err := v.Review(context.Background(), Request{Diff: "diff", Proposal: "prop"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPass, vote.Verdict)

	v = &LLM{Gen: &fakeGen{name: "openai/gpt-5", err: errors.New("503")}}
	_, err = v.Review(context.Background(), Request{})
	var unavailable *VoterUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "openai/gpt-5", unavailable.Voter)
}

func TestCollect(t *testing.T) {
	voters := []Voter{
		&LLM{Gen: &fakeGen{name: "a/pass", reply: `{"verdict": "pass"}`}},
		&LLM{Gen: &fakeGen{name: "b/fail", reply: `{"verdict": "fail"}`}},
		&LLM{Gen: &fakeGen{name: "c/down", err: errors.New("connection refused")}},
	}

	votes := Collect(context.Background(), voters, Request{Diff: "d"}, 0)
	require.Len(t, votes, 3)

	// Votes stay in voter order regardless of completion order.
	assert.Equal(t, "a/pass", votes[0].Voter)
	assert.Equal(t, model.VerdictPass, votes[0].Verdict)
	assert.Equal(t, model.VerdictFail, votes[1].Verdict)
	assert.Equal(t, model.VerdictError, votes[2].Verdict)
	assert.Contains(t, votes[2].Summary, "connection refused")
}

func TestCollectPerVoterTimeout(t *testing.T) {
	voters := []Voter{
		&LLM{Gen: &fakeGen{name: "fast", reply: `{"verdict": "pass"}`}},
		&LLM{Gen: &fakeGen{name: "slow", reply: `{"verdict": "pass"}`, delay: time.Second}},
	}

	start := time.Now()
	votes := Collect(context.Background(), voters, Request{}, 50*time.Millisecond)
	require.Len(t, votes, 2)

	assert.Equal(t, model.VerdictPass, votes[0].Verdict)
	assert.Equal(t, model.VerdictError, votes[1].Verdict)
	assert.Less(t, time.Since(start), time.Second)
}
