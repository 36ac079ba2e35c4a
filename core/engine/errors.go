package engine

import (
	"errors"
	"fmt"
)

// Request errors. Storage and plugin errors are returned unchanged and
// never wrapped in these.
var (
	// ErrBadRequest means the request is malformed, names an unknown
	// entity or has an unknown kind.
	ErrBadRequest = errors.New("bad request")

	// ErrForbidden means a restriction of the entity forbids the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRestricted means a delete is blocked by a restrict dependent.
	ErrRestricted = fmt.Errorf("%w: referenced by restricting records", ErrForbidden)
)

// Execution outcomes reported to the Recorder.
const (
	OutcomeOK         = "ok"
	OutcomeBadRequest = "bad_request"
	OutcomeForbidden  = "forbidden"
	OutcomeError      = "error"
)

// Session outcomes reported to the Recorder.
const (
	SessionCommitted    = "committed"
	SessionAborted      = "aborted"
	SessionCommitFailed = "commit_failed"
	SessionBeginFailed  = "begin_failed"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrBadRequest):
		return OutcomeBadRequest
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	default:
		return OutcomeError
	}
}
