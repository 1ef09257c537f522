package scraper

import (
	"errors"
	"fmt"
)

// ErrConfig is matched (via errors.Is) by every configuration error raised at
// construction time. A scraper is never constructed with invalid
// configuration, so this family never surfaces mid-scrape.
var ErrConfig = errors.New("invalid scraper configuration")

// MissingKeyError reports a required config key that is absent from the
// values bag.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required config key %q", e.Key)
}

func (e *MissingKeyError) Is(target error) bool { return target == ErrConfig }

// TypeMismatchError reports a config value that is present but has the wrong
// type or an out-of-range value.
type TypeMismatchError struct {
	Key      string
	Expected string
	Found    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("config key %q: expected %s, found %s", e.Key, e.Expected, e.Found)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrConfig }

// ValidationError reports invalid call arguments, e.g. start >= end. This is
// a caller bug and must not be retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid arguments: " + e.Reason
}

// TransportError wraps a network or connection failure. Transient; the
// orchestrator may retry with backoff.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports a credential rejected by the upstream. Retrying without
// rotating the credential is pointless, so it is surfaced distinctly from
// transport and parse failures.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "upstream rejected credentials: " + e.Reason
}

// ParseError reports a response that did not match the expected shape or
// types. Row is 1-based counting data rows; Row 0 means the failure was not
// tied to a specific row (e.g. a malformed document or missing header).
type ParseError struct {
	Row    int
	Column string
	Reason string
}

func (e *ParseError) Error() string {
	msg := "parse failure"
	if e.Row > 0 {
		msg += fmt.Sprintf(" at row %d", e.Row)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" in column %q", e.Column)
	}
	return msg + ": " + e.Reason
}
