// Package errors defines the kind-based error taxonomy the job runner uses
// to translate internal failures into catalog terminal state.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the retry combinator and for the Job
// Runner's terminal-state translation. Kinds are not a type hierarchy —
// every wrapper below is a distinct Go type, but callers should branch on
// Kind via errors.As, not on concrete type.
type Kind string

const (
	KindTransientInfra Kind = "transient_infra"
	KindConcurrency    Kind = "concurrency_lost"
	KindAnalyze        Kind = "analyze_error"
	KindProfile        Kind = "profile_error"
	KindEncode         Kind = "encode_error"
	KindCancelled      Kind = "cancellation"
	KindValidation     Kind = "validation_error"
)

// kindError is the common shape for every taxonomy wrapper: a kind tag,
// a message and an optional cause.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *kindError) Unwrap() error { return e.err }

// KindOf returns the taxonomy kind of the error, or "" if err does not
// carry one from this package.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

// Transient wraps a database/WebDAV/broker transport error. The Job
// Runner retries these with unbounded exponential backoff.
func Transient(msg string, cause error) error {
	return &kindError{kind: KindTransientInfra, msg: msg, err: cause}
}

// IsTransient reports whether err (or something it wraps) is Transient.
func IsTransient(err error) bool { return KindOf(err) == KindTransientInfra }

// Concurrency wraps a lost-ownership error at unlock time: the job row
// was no longer owned by the calling task. Fatal for the task, never
// retried, no catalog status change.
func Concurrency(msg string) error {
	return &kindError{kind: KindConcurrency, msg: msg}
}

func IsConcurrency(err error) bool { return KindOf(err) == KindConcurrency }

// Analyze wraps a media-analyzer rejection (no video stream, unparseable
// probe output). Surfaced as job ERROR.
func Analyze(msg string, cause error) error {
	return &kindError{kind: KindAnalyze, msg: msg, err: cause}
}

func IsAnalyze(err error) bool { return KindOf(err) == KindAnalyze }

// Profile wraps a profile-engine rejection (no matching video/audio
// profile for the source). Surfaced as job ERROR.
func Profile(msg string) error {
	return &kindError{kind: KindProfile, msg: msg}
}

func IsProfile(err error) bool { return KindOf(err) == KindProfile }

// encodeError additionally carries the captured tail of encoder stderr.
type encodeError struct {
	kindError
	tail []string
}

// Encode wraps an encoder exit failure (non-zero exit, or exit 0 with an
// `[error]` line), carrying up to the last len(tail) stderr lines.
func Encode(msg string, tail []string) error {
	return &encodeError{kindError: kindError{kind: KindEncode, msg: msg}, tail: tail}
}

// As lets errors.As (and so KindOf) see the embedded kindError.
func (e *encodeError) As(target any) bool {
	if t, ok := target.(**kindError); ok {
		*t = &e.kindError
		return true
	}
	return false
}

// EncodeTail returns the captured stderr tail, if err is an Encode error.
func EncodeTail(err error) []string {
	var ee *encodeError
	if errors.As(err, &ee) {
		return ee.tail
	}
	return nil
}

func IsEncode(err error) bool { return KindOf(err) == KindEncode }

// Cancelled wraps a cooperative soft-stop. Not an error from the job's
// point of view: the Job Runner returns the job to QUEUED with this as
// the informational reason, it does not transition to ERROR.
func Cancelled(reason string) error {
	return &kindError{kind: KindCancelled, msg: reason}
}

func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// Validation wraps an output that failed the post-segment sanity check
// (e.g. output duration < 0.95x source duration).
func Validation(msg string) error {
	return &kindError{kind: KindValidation, msg: msg}
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// Retryable reports whether the retry combinator in package job should
// keep retrying this error at all. Concurrency loss and the terminal
// ERROR-producing kinds are not retryable; transient infra and
// cancellation are handled by their own policies upstream.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrency, KindAnalyze, KindProfile, KindEncode, KindValidation:
		return false
	default:
		return true
	}
}
