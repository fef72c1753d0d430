// Package xdperrors defines sentinel errors for three of spec.md §7's four
// error taxa, so callers can branch on a taxon with errors.Is instead of
// string-matching messages. The fourth taxon, per-packet fail-soft framing
// failures, is deliberately not a Go error here: internal/xdp's decoders
// sit on the per-message hot path and report failure via a plain
// (T, bool) return, and internal/dispatch.Counters tallies the drop
// reason, so no packet-framing failure ever allocates or wraps an error.
package xdperrors

import "errors"

var (
	// ErrFatalStartup tags errors that abort the whole run: no input
	// files, a required symbol map that failed to load, shared-result
	// mapping failure, or worker fan-out failure.
	ErrFatalStartup = errors.New("fatal startup error")

	// ErrFileSkipped tags a single capture file that could not be opened
	// or parsed; the run continues without it.
	ErrFileSkipped = errors.New("file skipped")

	// ErrEventGuarded tags a per-event no-op guard condition: a
	// DELETE/MODIFY/EXECUTE referencing an unknown order id, or an ADD of
	// a duplicate id. internal/book returns this from the offending call
	// so a caller that wants to observe the guard (not just count it via
	// dispatch.Counters) can errors.Is against it.
	ErrEventGuarded = errors.New("event guard condition")
)

// Fatal wraps err as a fatal-startup error with the given reason.
func Fatal(reason string, err error) error {
	return &taxonError{taxon: ErrFatalStartup, reason: reason, cause: err}
}

// FileSkip wraps err as a per-file-skip error naming the offending file.
func FileSkip(file string, err error) error {
	return &taxonError{taxon: ErrFileSkipped, reason: file, cause: err}
}

// EventGuard wraps reason as an event-guard error, with no further cause.
func EventGuard(reason string) error {
	return &taxonError{taxon: ErrEventGuarded, reason: reason}
}

type taxonError struct {
	taxon  error
	reason string
	cause  error
}

func (e *taxonError) Error() string {
	if e.cause == nil {
		return e.taxon.Error() + ": " + e.reason
	}
	return e.taxon.Error() + ": " + e.reason + ": " + e.cause.Error()
}

func (e *taxonError) Unwrap() error { return e.cause }

func (e *taxonError) Is(target error) bool { return target == e.taxon }
