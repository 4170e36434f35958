package domain

import "fmt"

// CallRequest is one request to invoke a named skill. It is created per
// conversation turn, consumed once by the dispatcher, and not retained.
type CallRequest struct {
	Skill     string
	Arguments map[string]any
	// OnProgress, when set, receives progress messages the handler emits
	// mid-execution (via ReportProgress). Purely advisory.
	OnProgress ProgressFunc
}

// FailureKind classifies why a dispatch did not produce a result.
type FailureKind string

const (
	FailSkillNotFound  FailureKind = "skill_not_found"
	FailValidation     FailureKind = "validation_failed"
	FailHandlerError   FailureKind = "handler_error"
	FailHandlerTimeout FailureKind = "handler_timeout"
)

// Failure carries the machine-actionable (kind, message) pair for a failed
// dispatch. End-user-facing wording is the host's responsibility.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Outcome is the result of one dispatch: either a text result or a Failure.
type Outcome struct {
	OK   bool
	Text string
	// CacheHit is true when the text came from the session's execution
	// records instead of a fresh handler run.
	CacheHit bool
	Failure  *Failure
}

// Success wraps a fresh handler result.
func Success(text string) Outcome {
	return Outcome{OK: true, Text: text}
}

// Cached wraps a result served from the deduplication records.
func Cached(text string) Outcome {
	return Outcome{OK: true, Text: text, CacheHit: true}
}

// Fail builds a failed outcome.
func Fail(kind FailureKind, format string, args ...any) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// Kind returns the failure kind, or "" for a successful outcome.
func (o Outcome) Kind() FailureKind {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}
