// Package cwerr defines the error-kind taxonomy shared across every Claw
// Town store and CLI command, so the command layer can map any error back
// to the spec's exit-code-1-plus-stderr-JSON contract uniformly rather than
// each subcommand inventing its own error formatting.
package cwerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Kind classifies an error for CLI surfacing. All kinds currently exit 1;
// the taxonomy exists so callers can decide policy (e.g. whether to retry)
// without string-matching error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindLockContention
)

// Error is a typed error carrying a Kind plus the allowed values, when
// relevant, so CLI output can include them per the spec's validation policy.
type Error struct {
	Kind    Kind
	Message string
	Allowed []string
}

func (e *Error) Error() string {
	if len(e.Allowed) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (allowed: %v)", e.Message, e.Allowed)
}

// NotFound builds a not-found error for the named entity.
func NotFound(format string, a ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, a...)}
}

// Validation builds a validation error, optionally naming the allowed values.
func Validation(allowed []string, format string, a ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, a...), Allowed: allowed}
}

// KindOf extracts the Kind from err, or KindUnknown if err isn't one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitJSON prints {"error": "..."} to stderr and returns the process exit
// code the spec requires (1 for every surfaced error kind).
func ExitJSON(err error) int {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	fmt.Fprintln(os.Stderr, string(payload))
	return 1
}
