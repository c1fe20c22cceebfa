package errors

import (
	"encoding/json"
	"maps"

	"github.com/cockroachdb/errors"
)

// ErrorBuilder assembles a domain error. Hints are shown to API clients,
// details are collected into one reportable payload and attached by Mark,
// which ends the chain.
type ErrorBuilder struct {
	err     error
	details map[string]any
}

func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

func NewErrorf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: errors.Newf(format, args...)}
}

// WithError wraps an existing error, typically one coming from storage.
// Its message stays in the chain for logs only.
func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails merges details that are safe to return to clients.
// Later keys win.
func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	if b.details == nil {
		b.details = make(map[string]any, len(details))
	}
	maps.Copy(b.details, details)
	return b
}

// WithGatepass names the gatepass the failed operation was aimed at. An empty
// number is left out since it is unknown before the gatepass is loaded.
func (b *ErrorBuilder) WithGatepass(id any, number string) *ErrorBuilder {
	d := map[string]any{"gatepass_id": id}
	if number != "" {
		d["gatepass_number"] = number
	}
	return b.WithReportableDetails(d)
}

func (b *ErrorBuilder) WithAction(action string) *ErrorBuilder {
	return b.WithReportableDetails(map[string]any{"action": action})
}

func (b *ErrorBuilder) WithRequiredRoles(roles ...string) *ErrorBuilder {
	return b.WithReportableDetails(map[string]any{"required_roles": roles})
}

// Mark attaches the collected details and the error kind
func (b *ErrorBuilder) Mark(reference error) error {
	if len(b.details) > 0 {
		if marshaled, err := json.Marshal(b.details); err == nil {
			b.err = errors.WithSafeDetails(b.err, "__json__:%s", errors.Safe(string(marshaled)))
		}
	}
	return errors.Mark(b.err, reference)
}

// Annotate adds reportable details to an error that already carries its kind
func Annotate(err error, details map[string]any) error {
	if err == nil || len(details) == 0 {
		return err
	}
	marshaled, mErr := json.Marshal(details)
	if mErr != nil {
		return err
	}
	return errors.WithSafeDetails(err, "__json__:%s", errors.Safe(string(marshaled)))
}
