package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/xfilter/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <dashboard>",
		Short: "Validate a dashboard without running it",
		Long: `Validate a CUE dashboard file or package directory.

Checks CUE syntax, the dashboard schema and every cross reference between
selections, params and views. Feedback loops between views are reported
as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadDashboard(path, LoadModeCollectAll)

	// Nothing compiled: path missing, no files, CUE or schema errors.
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Detail(), nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	if len(loadErrors) > 0 {
		return outputValidationErrors(formatter, toValidationErrors(loadErrors))
	}

	formatter.VerboseLog("Validated %d selection(s), %d param(s), %d view(s)",
		len(loadResult.Spec.Selections), len(loadResult.Spec.Params), len(loadResult.Spec.Views))

	return outputValidateSuccess(formatter, loadResult)
}

// toValidationErrors converts loader errors back into validation errors.
func toValidationErrors(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			out = append(out, compiler.ValidationError{Field: "dashboard", Message: err.Error(), Code: ErrCodeGeneric})
			continue
		}
		field, message, ok := strings.Cut(loadErr.Message, ": ")
		if !ok {
			field, message = "dashboard", loadErr.Message
		}
		out = append(out, compiler.ValidationError{
			Field:   field,
			Message: message,
			Code:    loadErr.Code,
			Line:    loadErr.Line,
		})
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result *LoadResult) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Warnings: result.Warnings})
	}

	spec := result.Spec
	name := spec.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(formatter.Writer, "\u2713 Dashboard valid: %s (%d views)\n", name, len(spec.Views))
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}
	return nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "\u2717 Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
