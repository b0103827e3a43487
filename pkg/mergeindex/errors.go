// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import "github.com/pkg/errors"

// Sentinel error kinds surfaced by the merge index to its planner-facing
// callers. Callers should compare against these with errors.Is, not string
// matching: SourceFailure in particular is always wrapped with the cause
// that killed the contributing source.
var (
	// ErrSourceFailure means a source reported an error or died; the whole
	// index is failed, since a consistent rowset can no longer be produced.
	ErrSourceFailure = errors.New("mergeindex: source failure")

	// ErrFetchedTooLarge means the fetch cache was discarded because it grew
	// past MergeTableMaxSize, and a later lookup needed the replay it no
	// longer has.
	ErrFetchedTooLarge = errors.New("mergeindex: fetched cache discarded, cannot replay")

	// ErrOperationUnsupported means a mutation or non-scan operation was
	// requested against a merge index; it is a pure-scan structure.
	ErrOperationUnsupported = errors.New("mergeindex: operation unsupported")

	// ErrInvariantViolation means a caller broke a documented precondition
	// (duplicate first page, unregistered source, duplicate registration).
	// This is a programming error in the transport layer, not a runtime
	// condition to retry around.
	ErrInvariantViolation = errors.New("mergeindex: invariant violation")
)

// wrapSourceFailure attaches cause to ErrSourceFailure so that both
// errors.Is(err, ErrSourceFailure) and the original transport error remain
// recoverable from the returned error.
func wrapSourceFailure(cause error) error {
	if cause == nil {
		return ErrSourceFailure
	}
	return errors.Wrap(ErrSourceFailure, cause.Error())
}

// errorsWrapf wraps base with a formatted message, using the same
// github.com/pkg/errors machinery as wrapSourceFailure so invariant
// violations remain errors.Is(err, ErrInvariantViolation) after wrapping.
func errorsWrapf(base error, format string, args ...interface{}) error {
	return errors.Wrapf(base, format, args...)
}
