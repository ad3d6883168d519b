package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classifying pipeline failures. Callers branch with
// errors.Is instead of inspecting error text.
var (
	// ErrTransient tags network-level failures that are safe to retry.
	ErrTransient = errors.New("transient failure")
	// ErrExternalTool tags terminal failures of the reconstruction or
	// optimization programs and of the reconstruction service itself.
	ErrExternalTool = errors.New("external tool error")
	// ErrOracle tags vision-oracle failures; the pipeline continues without
	// product data when it sees this marker.
	ErrOracle = errors.New("oracle failure")
	// ErrMissingArtifact tags a reconstruction that produced no usable
	// output files. Terminal and non-retryable.
	ErrMissingArtifact = errors.New("missing artifact")
	// ErrNotFound tags lookups of unknown jobs or posts.
	ErrNotFound = errors.New("not found")
	// ErrValidation tags rejected inputs (wrong extension, empty upload).
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether an error should terminate the pipeline for its job.
// Oracle failures are survivable; everything else tagged here is not.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrOracle)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
