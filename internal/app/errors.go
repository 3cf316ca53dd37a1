package app

import (
	"errors"

	"gopherai-analyst/internal/conversation"
)

// Failure taxonomy of the answer pipeline. Tools never return these to the
// caller of Answer; they are wrapped internally and mapped to sentinel
// results or short messages.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrTransport      = errors.New("external service unavailable")
	ErrAccessDenied   = errors.New("access denied")
	ErrNoInformation  = errors.New("no information")
	ErrCodeGeneration = errors.New("analysis plan generation failed")
	ErrExecution      = errors.New("analysis execution failed")

	// ErrNotOwner is returned to callers of Answer and Reset.
	ErrNotOwner = conversation.ErrNotOwner
)

const (
	// GenericApology replaces any answer the pipeline failed to produce.
	GenericApology = "Sorry, I ran into a problem while answering your question. Please try again."

	// NoInformationPhrase is what the synthesis oracle says when the
	// evidence does not answer the question.
	NoInformationPhrase = "I don't have enough information"

	resetReply        = "Conversation has been reset."
	exportUnavailable = "Export is not available."
)
