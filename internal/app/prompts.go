package app

import (
	"fmt"
	"strings"

	"gopherai-analyst/internal/ai"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/tabular"
)

const (
	purposeDecompose  = "decompose"
	purposeRelevance  = "relevance"
	purposeGate       = "gate"
	purposePlan       = "plan"
	purposeSynthesize = "synthesize"
	purposeFallback   = "fallback"
)

const decomposeSystem = `You split user questions into independent subquestions.
Rules:
- Output one self-contained subquestion per line, in the order they appear.
- Resolve pronouns using the conversation so far.
- If the question asks one thing, output it unchanged on a single line.
- Output at most %d lines and nothing else.`

const relevanceSystem = `You judge whether a document excerpt helps answer a question.
Reply with exactly YES or NO.`

const gateSystem = `You decide whether answering a question requires querying structured tables.
You are given table names and their columns only.
Reply with exactly YES or NO.`

const planSystem = `You translate a question into a JSON query plan over the tables below.
Reply with a single JSON object and nothing else. Schema:
{"table": "<table>",
 "join": {"table": "<table>", "left": "<column of table>", "right": "<column of join table>"},
 "filters": [{"column": "<column>", "op": "eq|ne|gt|gte|lt|lte|contains|in|between", "value": <value or [values]>}],
 "group_by": ["<column>"],
 "aggregates": [{"func": "count|sum|avg|min|max|count_distinct", "column": "<column>", "as": "<name>"}],
 "select": ["<column or aggregate name>"],
 "sort": [{"column": "<column or aggregate name>", "desc": true}],
 "limit": <n>}
Every key except "table" is optional. Use only the tables and columns listed.
Dates are written as YYYY-MM-DD. Columns of a joined table that clash with the
first table are referenced as "<table>.<column>".
If the question cannot be answered with these tables reply {"unsupported": true, "reason": "<why>"}.`

const synthesisSystem = `You answer questions using only the evidence provided.
Evidence comes from two channels: retrieved documents (Index) and a tabular analysis (Python).
Write a direct, concise answer. Do not invent facts that are not in the evidence.
If the evidence does not answer the question, reply exactly: "` + NoInformationPhrase + `".
Otherwise end your reply with one final line naming the channels you used, exactly one of:
Source: Index
Source: Python
Source: Index & Python`

const fallbackSystem = `You are a helpful assistant. No internal documents or data were available
for this question, so answer from general knowledge. Be concise and say when you are unsure.`

func formatHistory(history []conversation.Turn) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range history {
		role := "User"
		if t.Role == conversation.RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Content))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func decomposePrompt(question string, history []conversation.Turn, maxParts int) ai.Prompt {
	return ai.Prompt{
		Purpose:   purposeDecompose,
		System:    fmt.Sprintf(decomposeSystem, maxParts),
		User:      "Conversation so far:\n" + formatHistory(history) + "\n\nQuestion: " + question,
		MaxTokens: 256,
	}
}

func relevancePrompt(question string, hit Hit) ai.Prompt {
	return ai.Prompt{
		Purpose:   purposeRelevance,
		System:    relevanceSystem,
		User:      "Question: " + question + "\n\nDocument: " + hit.Title + "\nExcerpt:\n" + hit.Content,
		MaxTokens: 3,
	}
}

func gatePrompt(question string, descs []tabular.Descriptor) ai.Prompt {
	lines := make([]string, len(descs))
	for i, d := range descs {
		lines[i] = "- " + d.SchemaLine()
	}
	return ai.Prompt{
		Purpose:   purposeGate,
		System:    gateSystem,
		User:      "Tables:\n" + strings.Join(lines, "\n") + "\n\nQuestion: " + question,
		MaxTokens: 3,
	}
}

func planPrompt(question string, history []conversation.Turn, descs []tabular.Descriptor) ai.Prompt {
	var b strings.Builder
	for _, d := range descs {
		b.WriteString("Table ")
		b.WriteString(d.SchemaLine())
		b.WriteByte('\n')
		if sample := d.SampleText(); sample != "" {
			b.WriteString("Sample rows:\n")
			b.WriteString(sample)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return ai.Prompt{
		Purpose:   purposePlan,
		System:    planSystem,
		User:      b.String() + "Conversation so far:\n" + formatHistory(history) + "\n\nQuestion: " + question,
		MaxTokens: 700,
	}
}

func synthesisPrompt(question string, retrieval RetrievalResult, analysis AnalysisResult, history []conversation.Turn, maxTokens int, temperature float64) ai.Prompt {
	index := NoInformationPhrase
	if !retrieval.NoInformation() {
		index = retrieval.Text
	}
	python := NoInformationPhrase
	if !analysis.NoInformation() {
		python = "Plan:\n" + analysis.Code + "\nResult:\n" + analysis.Output
	}
	return ai.Prompt{
		Purpose: purposeSynthesize,
		System:  synthesisSystem,
		User: "Conversation so far:\n" + formatHistory(history) +
			"\n\n[Index evidence]\n" + index +
			"\n\n[Python evidence]\n" + python +
			"\n\nQuestion: " + question,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

func fallbackPrompt(question string, history []conversation.Turn, maxTokens int, temperature float64) ai.Prompt {
	return ai.Prompt{
		Purpose:     purposeFallback,
		System:      fallbackSystem,
		User:        "Conversation so far:\n" + formatHistory(history) + "\n\nQuestion: " + question,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
