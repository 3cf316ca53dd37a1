package app

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"gopherai-analyst/internal/conversation"
)

type SourceTag string

const (
	SourceIndex  SourceTag = "Index"
	SourcePython SourceTag = "Python"
	SourceBoth   SourceTag = "Index & Python"
	SourceAI     SourceTag = "AI Generated"
)

const markerPrefix = "Source: "

var markerLine = regexp.MustCompile("(?i)^[\\s*_`\\[\\]]*source\\s*:[\\s*_`\\[\\]]*" +
	"(index\\s*(?:&|and)\\s*python|python\\s*(?:&|and)\\s*index|index|python)" +
	"[\\s*_`\\[\\].]*$")

func (t SourceTag) hasIndex() bool  { return t == SourceIndex || t == SourceBoth }
func (t SourceTag) hasPython() bool { return t == SourcePython || t == SourceBoth }

func tagFor(index, python bool) SourceTag {
	switch {
	case index && python:
		return SourceBoth
	case index:
		return SourceIndex
	case python:
		return SourcePython
	default:
		return SourceAI
	}
}

// FinalAnswer is the synthesized reply. Text is what the user sees: the
// body, any attached evidence and the source marker line.
type FinalAnswer struct {
	Body     string
	Source   SourceTag
	Evidence string
	Text     string
}

// Degraded reports an answer that stands in for a failed synthesis. Such
// answers are not cached.
func (f FinalAnswer) Degraded() bool { return f.Body == GenericApology }

type SynthesizerOptions struct {
	MaxTokens   int
	Temperature float64
}

type Synthesizer struct {
	oracle Oracle
	opts   SynthesizerOptions
	logger *zap.Logger
}

func NewSynthesizer(oracle Oracle, opts SynthesizerOptions, logger *zap.Logger) *Synthesizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{oracle: oracle, opts: opts, logger: logger.Named("synthesizer")}
}

// Synthesize merges the evidence into one answer. The source tag only ever
// names channels that carried evidence; with no evidence at all the answer
// comes from general knowledge and is tagged AI Generated.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, retrieval RetrievalResult, analysis AnalysisResult, history []conversation.Turn) FinalAnswer {
	hasIndex, hasPython := !retrieval.NoInformation(), !analysis.NoInformation()
	notice := ""
	if analysis.Denied {
		notice = strings.TrimSpace(analysis.Output)
	}

	if !hasIndex && !hasPython {
		return compose(s.fallback(ctx, question, history), SourceAI, retrieval, analysis, notice)
	}

	available := tagFor(hasIndex, hasPython)
	out, err := s.oracle.Complete(ctx, synthesisPrompt(question, retrieval, analysis, history, s.opts.MaxTokens, s.opts.Temperature))
	if err != nil || degenerate(out) {
		s.logger.Warn("synthesis output unusable, answering with apology", zap.Error(err))
		return compose(GenericApology, available, retrieval, analysis, notice)
	}

	body, marker, found := splitMarker(out)
	if noInformation(body) {
		s.logger.Debug("synthesis reported no information, using general knowledge")
		return compose(s.fallback(ctx, question, history), SourceAI, retrieval, analysis, notice)
	}

	tag := available
	if found {
		tag = tagFor(marker.hasIndex() && hasIndex, marker.hasPython() && hasPython)
		if tag == SourceAI {
			tag = available
		}
	} else {
		s.logger.Warn("synthesis output carried no source marker, deriving from evidence", zap.String("source", string(available)))
	}
	if body == "" {
		body = GenericApology
	}
	return compose(body, tag, retrieval, analysis, notice)
}

func (s *Synthesizer) fallback(ctx context.Context, question string, history []conversation.Turn) string {
	out, err := s.oracle.Complete(ctx, fallbackPrompt(question, history, s.opts.MaxTokens, s.opts.Temperature))
	if err != nil || degenerate(out) {
		s.logger.Warn("fallback answer unusable", zap.Error(err))
		return GenericApology
	}
	body, _, _ := splitMarker(out)
	if body == "" {
		return GenericApology
	}
	return body
}

// splitMarker removes the last line that reads as a source marker and
// returns the remaining body.
func splitMarker(out string) (string, SourceTag, bool) {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := markerLine.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		body := append(lines[:i:i], lines[i+1:]...)
		return strings.TrimSpace(strings.Join(body, "\n")), parseTag(m[1]), true
	}
	return strings.TrimSpace(out), "", false
}

func parseTag(raw string) SourceTag {
	raw = strings.ToLower(raw)
	switch {
	case strings.Contains(raw, "index") && strings.Contains(raw, "python"):
		return SourceBoth
	case strings.Contains(raw, "python"):
		return SourcePython
	default:
		return SourceIndex
	}
}

func degenerate(out string) bool {
	out = strings.TrimSpace(out)
	return out == "" || strings.HasPrefix(strings.ToLower(out), "error")
}

func noInformation(body string) bool {
	b := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(body), "’", "'"))
	b = strings.TrimLeft(b, "\"'*_ ")
	return strings.HasPrefix(b, strings.ToLower(NoInformationPhrase))
}

func compose(body string, tag SourceTag, retrieval RetrievalResult, analysis AnalysisResult, notice string) FinalAnswer {
	evidence := evidenceSections(tag, retrieval.Text, analysis.Code, analysis.Output)
	parts := []string{strings.TrimSpace(body)}
	if notice != "" {
		parts = append(parts, notice)
	}
	if evidence != "" {
		parts = append(parts, evidence)
	}
	parts = append(parts, markerPrefix+string(tag))
	return FinalAnswer{
		Body:     strings.TrimSpace(body),
		Source:   tag,
		Evidence: evidence,
		Text:     strings.Join(parts, "\n\n"),
	}
}

// evidenceSections renders the raw evidence of the channels named by tag.
func evidenceSections(tag SourceTag, retrievalText, code, output string) string {
	var sections []string
	if tag.hasIndex() && strings.TrimSpace(retrievalText) != "" {
		sections = append(sections, "Retrieved context:\n"+strings.TrimSpace(retrievalText))
	}
	if tag.hasPython() && strings.TrimSpace(code) != "" {
		sections = append(sections, "Generated analysis:\n```json\n"+strings.TrimSpace(code)+"\n```\nResult:\n"+strings.TrimSpace(output))
	}
	return strings.Join(sections, "\n\n")
}
