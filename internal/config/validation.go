package config

import (
	"fmt"
	"strings"
)

// InvalidValue is a setting that failed validation.
type InvalidValue struct {
	Key    string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidSymbols []string
	InvalidValues  []InvalidValue
}

func (e *ValidationErrors) add(key, reason string) {
	e.InvalidValues = append(e.InvalidValues, InvalidValue{Key: key, Reason: reason})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidSymbols) > 0 || len(e.InvalidValues) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidValues) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, v := range e.InvalidValues {
			sb.WriteString(fmt.Sprintf("  - %s %s\n", v.Key, v.Reason))
		}
	}

	if len(e.InvalidSymbols) > 0 {
		sb.WriteString("\nInvalid symbols:\n")
		for _, s := range e.InvalidSymbols {
			sb.WriteString(fmt.Sprintf("  - %q\n", s))
		}
		sb.WriteString("\nSymbols must be 1-10 letters, digits or dots, starting with a letter (optionally prefixed by $)\n")
	}

	return sb.String()
}
