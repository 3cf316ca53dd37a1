package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-analyst/internal/ai"
	"gopherai-analyst/internal/search"
)

func titles(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Title
	}
	return out
}

func TestRetrievalHidesSnippetsAboveUserTier(t *testing.T) {
	index := &fakeIndex{results: map[string][]search.Result{
		"minutes": {
			{Title: "board minutes 2023", Content: "Confidential decisions."},
			complaintsHit,
			{Title: "Staff Handbook", Content: "Unlisted documents default to tier 1."},
		},
	}}
	oracle := newFakeOracle().fail(purposeDecompose).reply(purposeRelevance, "YES")
	r := NewRetriever(index, testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{}, nil)

	got := r.Search(context.Background(), "board minutes", nil, 5, 2)
	assert.Equal(t, []string{"Customer Complaints Policy.pdf", "Staff Handbook"}, titles(got.Hits))
	assert.NotContains(t, got.Text, "Confidential")

	got = r.Search(context.Background(), "board minutes", nil, 5, 4)
	assert.Contains(t, titles(got.Hits), "board minutes 2023")
}

func TestRetrievalRelevanceFilter(t *testing.T) {
	index := &fakeIndex{results: map[string][]search.Result{
		"policy": {complaintsHit, {Title: "Canteen Menu", Content: "Soup of the day."}},
	}}
	oracle := newFakeOracle().reply(purposeDecompose, "What is the policy?")
	oracle.replies[purposeRelevance] = func(p ai.Prompt) (string, error) {
		if strings.Contains(p.User, "Canteen") {
			return "No.", nil
		}
		if strings.Contains(p.User, "Complaints") {
			return "", ai.ErrOracleStatus
		}
		return "YES", nil
	}
	r := NewRetriever(index, testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{}, nil)

	got := r.Search(context.Background(), "What is the policy?", nil, 5, 3)
	assert.Equal(t, []string{"Customer Complaints Policy.pdf"}, titles(got.Hits), "an oracle failure keeps the snippet")
}

func TestRetrievalSurvivesPanics(t *testing.T) {
	oracle := newFakeOracle().reply(purposeDecompose, "What is the complaints policy?").reply(purposeRelevance, "YES")
	r := NewRetriever(panickingIndex{}, testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{}, nil)

	got := r.Search(context.Background(), "What is the complaints policy?", nil, 5, 3)
	assert.True(t, got.NoInformation())

	oracle.replies[purposeRelevance] = func(ai.Prompt) (string, error) { panic("relevance client bug") }
	r = NewRetriever(compoundIndex(), testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{}, nil)

	got = r.Search(context.Background(), "What is the complaints policy?", nil, 5, 3)
	assert.True(t, got.NoInformation())
	assert.Empty(t, got.Text)
}

func TestRetrievalRanksByTitleKeywords(t *testing.T) {
	index := &fakeIndex{results: map[string][]search.Result{
		"leave": {
			{Title: "Notes A", Content: "a"},
			{Title: "Leave Policy", Content: "b"},
			{Title: "Notes B", Content: "c"},
			{Title: "Annual Report", Content: "d"},
		},
	}}
	oracle := newFakeOracle().reply(purposeDecompose, "leave").reply(purposeRelevance, "YES")
	r := NewRetriever(index, testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{}, nil)

	got := r.Search(context.Background(), "leave", nil, 3, 1)
	assert.Equal(t, []string{"Leave Policy", "Annual Report", "Notes A"}, titles(got.Hits))
	assert.Equal(t, 5, got.Hits[0].Score)
}

func TestRetrievalMergesInSubquestionOrder(t *testing.T) {
	index := &fakeIndex{results: map[string][]search.Result{
		"first":  {{Title: "First", Content: "1"}},
		"second": {{Title: "Second", Content: "2"}},
	}}
	oracle := newFakeOracle().reply(purposeDecompose, "the first one\nthe second one").reply(purposeRelevance, "YES")
	r := NewRetriever(index, testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{Concurrency: 2}, nil)

	got := r.Search(context.Background(), "first and second", nil, 5, 1)
	assert.Equal(t, []string{"First", "Second"}, titles(got.Hits))
	assert.Equal(t, "[First]\n1"+snippetSeparator+"[Second]\n2", got.Text)
}

func TestRetrievalWithoutHitsIsSentinel(t *testing.T) {
	oracle := newFakeOracle().reply(purposeDecompose, "anything")
	r := NewRetriever(&fakeIndex{}, testResolver(), oracle, NewDecomposer(oracle, nil), RetrieverOptions{}, nil)

	got := r.Search(context.Background(), "anything", nil, 5, 3)
	assert.True(t, got.NoInformation())
	assert.Empty(t, got.Text)
}

func TestDecomposerNeverEmpty(t *testing.T) {
	tests := []struct {
		name   string
		oracle *fakeOracle
		q      string
		want   []string
	}{
		{"oracle list", newFakeOracle().reply(purposeDecompose, "1. A?\n2) B?\n- A?\n\n"), "A and B", []string{"A?", "B?"}},
		{"oracle failure splits conjunctions", newFakeOracle().fail(purposeDecompose), "footfalls and policy & budget", []string{"footfalls", "policy", "budget"}},
		{"blank oracle output", newFakeOracle().reply(purposeDecompose, " \n \n"), "single question", []string{"single question"}},
		{"oracle failure single question", newFakeOracle().fail(purposeDecompose), "What is the policy?", []string{"What is the policy?"}},
		{"only conjunctions", newFakeOracle().fail(purposeDecompose), "and", []string{"and"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewDecomposer(tt.oracle, nil).Decompose(context.Background(), tt.q, nil)
			require.NotEmpty(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecomposerCapsSubquestions(t *testing.T) {
	oracle := newFakeOracle().reply(purposeDecompose, "a\nb\nc\nd\ne\nf\ng")
	got := NewDecomposer(oracle, nil).Decompose(context.Background(), "many", nil)
	assert.Len(t, got, maxSubquestions)
}

func TestVerdict(t *testing.T) {
	assert.True(t, isYes("Yes."))
	assert.True(t, isYes("  YES, it helps"))
	assert.True(t, isNo("no"))
	assert.False(t, isNo("NOT SURE"))
	assert.False(t, isYes(""))
}
