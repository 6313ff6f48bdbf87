package output

import (
	"fmt"
	"io"
)

const (
	infoPrefix    = "ℹ️  "
	warnPrefix    = "⚠️  "
	successPrefix = "✅ "
	failurePrefix = "❌ "
	pendingPrefix = "⏳ "
)

// InfoTo prints an informational message to w.
func InfoTo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, infoPrefix+msg)
}

// Infof prints a formatted informational message to w.
func Infof(w io.Writer, format string, args ...any) {
	InfoTo(w, fmt.Sprintf(format, args...))
}

// WarnTo prints a warning message to w.
func WarnTo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, warnPrefix+msg)
}

// Warnf prints a formatted warning message to w.
func Warnf(w io.Writer, format string, args ...any) {
	WarnTo(w, fmt.Sprintf(format, args...))
}

// SuccessTo prints a success message to w.
func SuccessTo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, successPrefix+msg)
}

// FailureTo prints a failure message to w.
func FailureTo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, failurePrefix+msg)
}

// PendingTo prints a progress message to w, e.g. while waiting for a signer.
func PendingTo(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, pendingPrefix+msg)
}
