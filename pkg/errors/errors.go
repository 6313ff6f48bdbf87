// Package errors provides structured error handling for Herald.
// It defines the transaction error taxonomy, exit codes, and helpers for
// adding context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes for the CLI.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Authentication failed
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Permission denied or insufficient funds
	ExitRejected   = 6 // Signing rejected or transaction failed on chain
)

// DetailKey is the details key used by WithDetail.
const DetailKey = "detail"

// HeraldError is the structured error type for Herald.
// The Code doubles as the error kind of the transaction taxonomy.
type HeraldError struct {
	Code       string            // Machine-readable error code (kind)
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *HeraldError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *HeraldError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for HeraldError.
func (e *HeraldError) Is(target error) bool {
	var t *HeraldError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Transaction error taxonomy.
var (
	ErrDuplicateTransaction = &HeraldError{
		Code:     "DUPLICATE_TRANSACTION",
		Message:  "another transaction is in progress for this account and chain",
		ExitCode: ExitInput,
	}

	ErrUnsupported = &HeraldError{
		Code:     "UNSUPPORTED",
		Message:  "transaction is not supported",
		ExitCode: ExitInput,
	}

	ErrChainDisconnected = &HeraldError{
		Code:     "CHAIN_DISCONNECTED",
		Message:  "chain is disconnected",
		ExitCode: ExitGeneral,
	}

	ErrInternal = &HeraldError{
		Code:     "INTERNAL_ERROR",
		Message:  "internal error",
		ExitCode: ExitGeneral,
	}

	ErrNotEnoughBalance = &HeraldError{
		Code:     "NOT_ENOUGH_BALANCE",
		Message:  "insufficient balance for amount plus fee",
		ExitCode: ExitPermission,
	}

	ErrNotEnoughExistentialDeposit = &HeraldError{
		Code:     "NOT_ENOUGH_EXISTENTIAL_DEPOSIT",
		Message:  "remaining balance is at or below the chain minimum balance",
		ExitCode: ExitPermission,
	}

	ErrUserRejectRequest = &HeraldError{
		Code:     "USER_REJECT_REQUEST",
		Message:  "signing request rejected by user",
		ExitCode: ExitRejected,
	}

	ErrUnableToSign = &HeraldError{
		Code:     "UNABLE_TO_SIGN",
		Message:  "unable to sign transaction",
		ExitCode: ExitRejected,
	}

	ErrUnableToSend = &HeraldError{
		Code:     "UNABLE_TO_SEND",
		Message:  "unable to send transaction",
		ExitCode: ExitGeneral,
	}

	ErrSendTransactionFailed = &HeraldError{
		Code:     "SEND_TRANSACTION_FAILED",
		Message:  "transaction failed on chain",
		ExitCode: ExitRejected,
	}

	ErrInvalidPassword = &HeraldError{
		Code:     "INVALID_PASSWORD",
		Message:  "invalid password",
		ExitCode: ExitAuth,
	}

	ErrKeyring = &HeraldError{
		Code:     "KEYRING_ERROR",
		Message:  "keyring error",
		ExitCode: ExitGeneral,
	}
)

// General-purpose errors.
var (
	ErrGeneral = &HeraldError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &HeraldError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrNotFound = &HeraldError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrInvalidAddress = &HeraldError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	ErrInvalidAmount = &HeraldError{
		Code:     "INVALID_AMOUNT",
		Message:  "invalid amount format",
		ExitCode: ExitInput,
	}

	ErrConfigInvalid = &HeraldError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrAccountNotFound = &HeraldError{
		Code:     "ACCOUNT_NOT_FOUND",
		Message:  "account not found",
		ExitCode: ExitNotFound,
	}

	ErrAccountExists = &HeraldError{
		Code:     "ACCOUNT_EXISTS",
		Message:  "account already exists",
		ExitCode: ExitInput,
	}

	ErrInvalidMnemonic = &HeraldError{
		Code:     "INVALID_MNEMONIC",
		Message:  "invalid mnemonic phrase",
		ExitCode: ExitInput,
	}
)

// New creates a new HeraldError with the given code and message.
func New(code, message string) *HeraldError {
	return &HeraldError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var he *HeraldError
	if errors.As(err, &he) {
		return &HeraldError{
			Code:       he.Code,
			Message:    fmt.Sprintf("%s: %s", msg, he.Message),
			Details:    he.Details,
			Suggestion: he.Suggestion,
			Cause:      err,
			ExitCode:   he.ExitCode,
		}
	}

	return &HeraldError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var he *HeraldError
	if errors.As(err, &he) {
		return &HeraldError{
			Code:       he.Code,
			Message:    he.Message,
			Details:    details,
			Suggestion: he.Suggestion,
			Cause:      he.Cause,
			ExitCode:   he.ExitCode,
		}
	}

	return &HeraldError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetail attaches a single human-readable detail to a taxonomy error,
// e.g. WithDetail(ErrInternal, "no such network").
func WithDetail(err error, detail string) error {
	return WithDetails(err, map[string]string{DetailKey: detail})
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var he *HeraldError
	if errors.As(err, &he) {
		return &HeraldError{
			Code:       he.Code,
			Message:    he.Message,
			Details:    he.Details,
			Suggestion: suggestion,
			Cause:      he.Cause,
			ExitCode:   he.ExitCode,
		}
	}

	return &HeraldError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// WithCause returns a copy of a taxonomy error carrying cause as its underlying error.
func WithCause(err, cause error) error {
	if err == nil {
		return nil
	}

	var he *HeraldError
	if errors.As(err, &he) {
		return &HeraldError{
			Code:       he.Code,
			Message:    he.Message,
			Details:    he.Details,
			Suggestion: he.Suggestion,
			Cause:      cause,
			ExitCode:   he.ExitCode,
		}
	}

	return fmt.Errorf("%w: %w", err, cause)
}

// Detail returns the detail attached with WithDetail, or "".
func Detail(err error) string {
	var he *HeraldError
	if errors.As(err, &he) && he.Details != nil {
		return he.Details[DetailKey]
	}
	return ""
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var he *HeraldError
	if errors.As(err, &he) {
		return he.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var he *HeraldError
	if errors.As(err, &he) {
		return he.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
