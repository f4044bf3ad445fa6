package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Identities int                        `json:"identities"`
	Campaigns  int                        `json:"campaigns"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate identity and campaign configuration",
		Long: `Validate the CUE identity and campaign definitions in a directory.

Compiles every definition and checks it the way sync would, without
touching the database. All errors are reported, not just the first.

Example:
  cadence validate ./config
  cadence validate ./config --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadConfig(dir, LoadModeCollectAll)
	if loadResult == nil {
		return outputLoadError(formatter, loadErrors[0])
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	bundle := loadResult.Bundle
	for _, id := range bundle.Identities {
		formatter.VerboseLog("Validating identity: %s", id.ID)
	}
	for _, c := range bundle.Campaigns {
		formatter.VerboseLog("Validating campaign: %s", c.ID)
	}

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		validationErrors = append(validationErrors, toValidationError(err))
	}
	validationErrors = append(validationErrors, bundle.Check()...)

	result := ValidationResult{
		Valid:      len(validationErrors) == 0,
		Identities: len(bundle.Identities),
		Campaigns:  len(bundle.Campaigns),
		Errors:     validationErrors,
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Config valid (%d identities, %d campaigns)\n", result.Identities, result.Campaigns)
	return nil
}

// toValidationError converts a loader error to the validation error shape.
func toValidationError(err error) compiler.ValidationError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		line := 0
		if loadErr.Pos.IsValid() {
			line = loadErr.Pos.Line()
		}
		return compiler.ValidationError{
			Field:   "config",
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    line,
		}
	}
	return compiler.ValidationError{Field: "config", Message: err.Error(), Code: ErrCodeGeneric}
}

// outputLoadError reports an error that prevented loading anything.
// These are command-level errors (exit code 2).
func outputLoadError(formatter *OutputFormatter, err error) error {
	code, message := ErrCodeGeneric, err.Error()
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code, message = loadErr.Code, loadErr.Message
	}
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s): %s", len(errs), errs[0].Code))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
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
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return failure
}
