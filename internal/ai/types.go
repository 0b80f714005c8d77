// Package ai routes question text through an external chat-completion
// service: a concurrent batch orchestrator on top of a strict-JSON completion
// adapter with a request-downgrade resilience ladder.
package ai

import (
	"errors"
	"fmt"
)

// BatchItem is one correction request unit, ephemeral for the duration of a
// single orchestration call.
type BatchItem struct {
	ID                string   `json:"id"`
	QuestionText      string   `json:"question"`
	Options           []string `json:"options,omitempty"`
	ProvidedAnswerRaw string   `json:"provided_answer,omitempty"`
}

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// BatchResult is the per-item outcome of a correction call.
type BatchResult struct {
	ID                 string   `json:"id"`
	Status             string   `json:"status"`
	CorrectAnswers     []int    `json:"correct_answers,omitempty"`
	NoAnswer           bool     `json:"no_answer,omitempty"`
	OptionExplanations []string `json:"option_explanations,omitempty"`
	GlobalExplanation  string   `json:"global_explanation,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// ErrorKind classifies completion-service failures so callers can decide
// whether retrying a whole job is worthwhile.
type ErrorKind int

const (
	// KindTransient marks network or server failures that may pass.
	KindTransient ErrorKind = iota

	// KindUnavailable marks configuration or authorization failures that
	// retrying cannot fix (missing credentials, bad endpoint, rejected model).
	KindUnavailable
)

// ServiceError is the typed error surfaced when the resilience ladder is
// exhausted.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err marks the service as unavailable or
// misconfigured rather than transiently failing.
func IsUnavailable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == KindUnavailable
}
