package transaction

import (
	"context"
	"errors"
	"strings"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// CustomValidator inspects the accumulated result and may add errors or warnings.
type CustomValidator func(ctx context.Context, result *ValidationResult)

// Intent is a request to sign and submit a transaction.
type Intent struct {
	Chain   chain.ID
	Address string

	// ChainType is optional; when set it must match the network.
	ChainType chain.Type

	// Payload is the chain payload to sign. Intents without one are unsupported.
	Payload chain.Payload

	// TransferAmount is checked against the balance. It is rescaled to the
	// chain's decimals before comparison.
	TransferAmount chain.Amount

	// Password unlocks a local key. It is zeroed once signing is done.
	Password []byte

	// URL is the origin of an external request. Empty means internal.
	URL string

	IgnoreWarnings bool
	Validator      CustomValidator
}

// IsInternal reports whether the intent did not come from an external site.
func (i *Intent) IsInternal() bool {
	return i.URL == ""
}

// ValidationResult is the outcome of the validation pipeline.
type ValidationResult struct {
	Errors         []error
	Warnings       []error
	Fee            chain.Amount
	TransferAmount chain.Amount
	Balance        chain.Amount
}

// AddError appends an error.
func (r *ValidationResult) AddError(err error) {
	r.Errors = append(r.Errors, err)
}

// AddWarning appends a warning.
func (r *ValidationResult) AddWarning(err error) {
	r.Warnings = append(r.Warnings, err)
}

// Blocked reports whether the result stops the transaction.
func (r *ValidationResult) Blocked(ignoreWarnings bool) bool {
	return len(r.Errors) > 0 || (len(r.Warnings) > 0 && !ignoreWarnings)
}

// ValidationError is returned by Submit when validation blocks an intent.
// No record is created.
type ValidationError struct {
	Errors   []error
	Warnings []error
	Fee      chain.Amount
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors)+len(e.Warnings))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	for _, w := range e.Warnings {
		parts = append(parts, "warning: "+w.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the errors, then the warnings, to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return append(append([]error(nil), e.Errors...), e.Warnings...)
}

// ExitCode returns the exit code of the first error, or of the first warning.
func (e *ValidationError) ExitCode() int {
	for _, list := range [][]error{e.Errors, e.Warnings} {
		if len(list) > 0 {
			return heralderr.ExitCode(list[0])
		}
	}
	return heralderr.ExitGeneral
}

// EventName names a transaction event channel.
type EventName string

// Transaction events, in the order they can occur.
const (
	EventExtrinsicHash EventName = "extrinsic_hash"
	EventSuccess       EventName = "success"
	EventError         EventName = "error"
)

// Event reports progress of one transaction.
type Event struct {
	Name          EventName
	ID            string
	ExtrinsicHash string
	BlockHash     string
	BlockNumber   uint64
	Errors        []error
	Warnings      []error
}

// IsTerminal reports whether no event follows this one.
func (e Event) IsTerminal() bool {
	return e.Name == EventSuccess || e.Name == EventError
}

// Err joins the errors of an error event, or returns nil.
func (e Event) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return errors.Join(e.Errors...)
}
