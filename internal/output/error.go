package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// ErrorOutput represents a structured error for JSON output.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Cause      string            `json:"cause,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// FormatError formats an error for display.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}

	if format == FormatJSON {
		return formatErrorJSON(w, err)
	}
	return formatErrorText(w, err)
}

func detailOf(err error) ErrorDetail {
	var ie *imalierr.ImaliError
	if !imalierr.As(err, &ie) {
		return ErrorDetail{
			Code:     imalierr.CodeGeneral,
			Message:  err.Error(),
			ExitCode: imalierr.ExitGeneral,
		}
	}

	d := ErrorDetail{
		Code:       ie.Code,
		Message:    ie.Message,
		Details:    ie.Details,
		Suggestion: ie.Suggestion,
		ExitCode:   ie.ExitCode,
	}
	if ie.Cause != nil {
		d.Cause = ie.Cause.Error()
	}
	return d
}

// formatErrorJSON outputs error in JSON format.
func formatErrorJSON(w io.Writer, err error) error {
	return WriteJSON(w, ErrorOutput{Error: detailOf(err)})
}

// formatErrorText outputs error in text format. Details are sorted by key.
func formatErrorText(w io.Writer, err error) error {
	d := detailOf(err)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", d.Message))
	if d.Cause != "" {
		sb.WriteString(fmt.Sprintf("Cause: %s\n", d.Cause))
	}

	if len(d.Details) > 0 {
		keys := make([]string, 0, len(d.Details))
		for k := range d.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, d.Details[k]))
		}
	}

	if d.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\nSuggestion: %s\n", d.Suggestion))
	}

	_, writeErr := w.Write([]byte(sb.String()))
	return writeErr
}

// FormatSuccess formats a success message.
func FormatSuccess(w io.Writer, message string, format Format) error {
	if format == FormatJSON {
		return WriteJSON(w, map[string]string{"status": "success", "message": message})
	}
	_, err := fmt.Fprintln(w, message)
	return err
}
