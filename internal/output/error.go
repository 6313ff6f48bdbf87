package output

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// ErrorOutput represents a structured error for JSON output.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorsOutput represents several errors, e.g. a failed validation.
type ErrorsOutput struct {
	Errors   []ErrorDetail `json:"errors"`
	Warnings []ErrorDetail `json:"warnings,omitempty"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// Detail converts err to its structured form. Errors outside the herald
// taxonomy become GENERAL_ERROR.
func Detail(err error) ErrorDetail {
	var he *heralderr.HeraldError
	if errors.As(err, &he) {
		return ErrorDetail{
			Code:       he.Code,
			Message:    he.Message,
			Details:    he.Details,
			Suggestion: he.Suggestion,
			ExitCode:   he.ExitCode,
		}
	}
	return ErrorDetail{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		ExitCode: heralderr.ExitGeneral,
	}
}

// FormatError formats an error for display.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}
	if format == FormatJSON {
		return writeJSON(w, ErrorOutput{Error: Detail(err)})
	}
	_, writeErr := io.WriteString(w, errorText("Error", Detail(err)))
	return writeErr
}

// FormatErrors formats a list of errors and warnings. Nothing is written
// when both are empty.
func FormatErrors(w io.Writer, errs, warnings []error, format Format) error {
	if len(errs) == 0 && len(warnings) == 0 {
		return nil
	}
	if format == FormatJSON {
		out := ErrorsOutput{Errors: details(errs), Warnings: details(warnings)}
		if out.Errors == nil {
			out.Errors = []ErrorDetail{}
		}
		return writeJSON(w, out)
	}

	var sb strings.Builder
	for _, err := range errs {
		sb.WriteString(errorText("Error", Detail(err)))
	}
	for _, warning := range warnings {
		sb.WriteString(errorText("Warning", Detail(warning)))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func details(errs []error) []ErrorDetail {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ErrorDetail, 0, len(errs))
	for _, err := range errs {
		out = append(out, Detail(err))
	}
	return out
}

func errorText(label string, d ErrorDetail) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", label, d.Message)

	if len(d.Details) > 0 {
		keys := make([]string, 0, len(d.Details))
		for k := range d.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("  Details:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "    %s: %s\n", k, d.Details[k])
		}
	}
	if d.Suggestion != "" {
		fmt.Fprintf(&sb, "  Suggestion: %s\n", d.Suggestion)
	}
	return sb.String()
}

// FormatSuccess formats a success message.
func FormatSuccess(w io.Writer, message string, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, map[string]string{"status": "success", "message": message})
	}
	SuccessTo(w, message)
	return nil
}
