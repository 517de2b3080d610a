// Package errs defines the error taxonomy shared by the sender pool,
// dispatcher, and pipeline (see spec §7). A Kind is not a type — it
// classifies retry policy, not source — and is carried on TaskError so
// callers can branch with errors.As without string matching.
package errs

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindPermanent   Kind = "permanent"
	KindFilterDrop  Kind = "filter_drop"
	KindOverflow    Kind = "queue_overflow"
	KindStore       Kind = "store_error"
	KindCancelled   Kind = "cancelled"
)

// TaskError wraps an underlying error with a retry-policy classification.
type TaskError struct {
	Kind       Kind
	RetryAfter time.Duration // meaningful only for KindRateLimited
	Err        error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func Transient(err error) *TaskError { return &TaskError{Kind: KindTransient, Err: err} }

func RateLimited(retryAfter time.Duration, err error) *TaskError {
	return &TaskError{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

func Permanent(err error) *TaskError { return &TaskError{Kind: KindPermanent, Err: err} }

func Store(err error) *TaskError { return &TaskError{Kind: KindStore, Err: err} }

func Cancelled() *TaskError { return &TaskError{Kind: KindCancelled} }

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind == k
	}
	return false
}

// Sentinel errors used by platform Sender implementations; these are
// deliberately not *TaskError so plain errors.Is comparisons keep working
// at the transport boundary, mirroring the teacher's channels package.
var (
	ErrNotRunning = errors.New("errs: sender not running")
	ErrSendFailed = errors.New("errs: send failed")
	ErrRateLimit  = errors.New("errs: rate limited")
	ErrTemporary  = errors.New("errs: temporary error")
)

// FilterDropReason enumerates why the filter engine dropped a message.
type FilterDropReason string

const (
	DropGlobalWord FilterDropReason = "global_word"
	DropPairWord   FilterDropReason = "pair_word"
	DropMediaType  FilterDropReason = "media_type"
	DropLength     FilterDropReason = "length"
	DropImage      FilterDropReason = "image_blocked"
)

// FilterDropError carries a FilterDropReason; it is a non-error outcome
// per spec §7 (FilterDrop is not retried and not logged as a failure).
type FilterDropError struct {
	Reason FilterDropReason
}

func (e *FilterDropError) Error() string { return "filter drop: " + string(e.Reason) }

func FilterDrop(reason FilterDropReason) error { return &FilterDropError{Reason: reason} }
