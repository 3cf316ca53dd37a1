package app

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"gopherai-analyst/internal/ai"
	"gopherai-analyst/internal/conversation"
)

const maxSubquestions = 5

var (
	listPrefix       = regexp.MustCompile(`^\s*(?:\d+\s*[.)]|[-*•])\s*`)
	conjunctionSplit = regexp.MustCompile(`(?i)\s+(?:and|&)\s+|\s*&\s*`)
)

// Oracle is the text-completion service. *ai.Client satisfies it.
type Oracle interface {
	Complete(ctx context.Context, p ai.Prompt) (string, error)
}

// Decomposer splits compound questions into independent subquestions.
type Decomposer struct {
	oracle Oracle
	logger *zap.Logger
}

func NewDecomposer(oracle Oracle, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{oracle: oracle, logger: logger.Named("decomposer")}
}

// Decompose never returns an empty slice for a non-blank question. The
// oracle is asked first; on failure the question is split on conjunctions,
// and failing that it is returned whole.
func (d *Decomposer) Decompose(ctx context.Context, question string, history []conversation.Turn) []string {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	if d.oracle != nil {
		out, err := d.oracle.Complete(ctx, decomposePrompt(question, history, maxSubquestions))
		if err != nil {
			d.logger.Warn("decompose oracle failed, splitting on conjunctions", zap.Error(err))
		} else if parts := cleanSubquestions(strings.Split(out, "\n")); len(parts) > 0 {
			return parts
		}
	}

	if parts := cleanSubquestions(conjunctionSplit.Split(question, -1)); len(parts) > 0 {
		return parts
	}
	return []string{question}
}

// cleanSubquestions strips list markers and quotes, drops blanks and
// case-insensitive duplicates, and caps the result.
func cleanSubquestions(lines []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range lines {
		line = listPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "\"'`“”"))
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
		if len(out) == maxSubquestions {
			break
		}
	}
	return out
}
