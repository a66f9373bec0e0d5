package steps

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExternalTool marks failures of an invoked binary or container.
	ErrExternalTool = errors.New("external tool error")
	// ErrConfiguration marks missing or inconsistent study configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrPrecondition marks inputs the step requires but cannot find.
	ErrPrecondition = errors.New("precondition not met")
	// ErrDataShape marks image data whose dimensions do not match what the
	// step expects to operate on.
	ErrDataShape = errors.New("unexpected data shape")
)

// Wrap builds an error message that includes step context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, step, operation, message string, err error) error {
	detail := buildDetail(step, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(step, operation, message string) string {
	parts := make([]string, 0, 3)
	if step = strings.TrimSpace(step); step != "" {
		parts = append(parts, step)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "step failure"
	}
	return strings.Join(parts, ": ")
}
