package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceTagReflectsUsedChannels(t *testing.T) {
	retrieval := RetrievalResult{
		Hits: []Hit{{Title: "Customer Complaints Policy.pdf", Content: "Two working days."}},
		Text: "[Customer Complaints Policy.pdf]\nTwo working days.",
	}
	analysis := AnalysisResult{Code: sumFootfallsPlan, Output: "440"}

	tests := []struct {
		name      string
		retrieval RetrievalResult
		analysis  AnalysisResult
		reply     string
		want      SourceTag
	}{
		{"both sentinel", RetrievalResult{}, AnalysisResult{}, "unused", SourceAI},
		{"both used", retrieval, analysis, "Answer.\nSource: Index & Python", SourceBoth},
		{"compact marker", retrieval, analysis, "Answer.\nSource: Index&Python", SourceBoth},
		{"decorated marker", retrieval, analysis, "Answer.\n\n**Source: [index & python]**", SourceBoth},
		{"index only", retrieval, AnalysisResult{}, "Answer.\nSource: Index", SourceIndex},
		{"marker clamped to evidence", retrieval, AnalysisResult{}, "Answer.\nSource: Index & Python", SourceIndex},
		{"marker naming only a sentinel channel", RetrievalResult{}, analysis, "Answer.\nSource: Index", SourcePython},
		{"missing marker derives from evidence", retrieval, analysis, "Answer without a marker.", SourceBoth},
		{"python only", RetrievalResult{}, analysis, "Answer.\nSource: Python", SourcePython},
		{"failed analysis is sentinel", retrieval, AnalysisResult{Code: "{}", Output: "Error executing analysis: x", Failed: true}, "Answer.\nSource: Index & Python", SourceIndex},
		{"no information falls back", retrieval, analysis, "I don't have enough information to answer that.", SourceAI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := newFakeOracle().
				reply(purposeSynthesize, tt.reply).
				reply(purposeFallback, "From general knowledge.")
			s := NewSynthesizer(oracle, SynthesizerOptions{}, nil)

			got := s.Synthesize(context.Background(), "q", tt.retrieval, tt.analysis, nil)
			assert.Equal(t, tt.want, got.Source)
			assert.True(t, strings.HasSuffix(got.Text, "\n\nSource: "+string(tt.want)), got.Text)
			assert.Equal(t, tt.want.hasIndex(), strings.Contains(got.Text, "Retrieved context:"))
			assert.Equal(t, tt.want.hasPython(), strings.Contains(got.Text, "Generated analysis:"))
			assert.Equal(t, 1, strings.Count(got.Text, "Source: "), "marker must appear once")
		})
	}
}

func TestSynthesizeBothSentinelSkipsSynthesisOracle(t *testing.T) {
	oracle := newFakeOracle().reply(purposeFallback, "General answer.")
	s := NewSynthesizer(oracle, SynthesizerOptions{}, nil)

	got := s.Synthesize(context.Background(), "q", RetrievalResult{}, AnalysisResult{}, nil)
	assert.Equal(t, "General answer.", got.Body)
	assert.Zero(t, oracle.count(purposeSynthesize))
	assert.Equal(t, 1, oracle.count(purposeFallback))
}

func TestDegenerateSynthesisBecomesApology(t *testing.T) {
	retrieval := RetrievalResult{Hits: []Hit{{Title: "t", Content: "c"}}, Text: "[t]\nc"}

	for _, out := range []string{"", "   ", "Error: upstream exploded"} {
		oracle := newFakeOracle().reply(purposeSynthesize, out)
		s := NewSynthesizer(oracle, SynthesizerOptions{}, nil)

		got := s.Synthesize(context.Background(), "q", retrieval, AnalysisResult{}, nil)
		assert.Equal(t, GenericApology, got.Body)
		assert.Equal(t, SourceIndex, got.Source)
		assert.NotContains(t, got.Text, "upstream exploded")
		assert.Contains(t, got.Text, "Retrieved context:\n[t]\nc")
	}

	oracle := newFakeOracle().fail(purposeSynthesize)
	got := NewSynthesizer(oracle, SynthesizerOptions{}, nil).Synthesize(context.Background(), "q", retrieval, AnalysisResult{}, nil)
	assert.Equal(t, GenericApology, got.Body)
}

func TestFallbackFailureBecomesApology(t *testing.T) {
	oracle := newFakeOracle().fail(purposeFallback)
	got := NewSynthesizer(oracle, SynthesizerOptions{}, nil).Synthesize(context.Background(), "q", RetrievalResult{}, AnalysisResult{}, nil)
	assert.Equal(t, GenericApology, got.Body)
	assert.Equal(t, SourceAI, got.Source)
}

func TestSplitMarker(t *testing.T) {
	body, tag, ok := splitMarker("Line one.\nSource: Python\n\n")
	assert.True(t, ok)
	assert.Equal(t, "Line one.", body)
	assert.Equal(t, SourcePython, tag)

	body, tag, ok = splitMarker("Answer.\n`Source: Python & Index`")
	assert.True(t, ok)
	assert.Equal(t, "Answer.", body)
	assert.Equal(t, SourceBoth, tag)

	_, _, ok = splitMarker("The source: of the river is unknown.")
	assert.False(t, ok)
}

func TestDeniedAnalysisShowsNotice(t *testing.T) {
	oracle := newFakeOracle().reply(purposeFallback, "General answer.")
	denied := AnalysisResult{Code: "{}", Output: "Access denied: no.", Denied: true}

	got := NewSynthesizer(oracle, SynthesizerOptions{}, nil).Synthesize(context.Background(), "q", RetrievalResult{}, denied, nil)
	assert.Equal(t, "General answer.\n\nAccess denied: no.\n\nSource: AI Generated", got.Text)
}
