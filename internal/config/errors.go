package config

import (
	"fmt"
	"strings"
)

// ConfigurationError describes one problem found while loading configuration.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`  // config.yaml path, or $VAR for environment input
	Field       string   `json:"field"`     // dotted path such as server.port
	ErrorType   string   `json:"errorType"` // parse or validation
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (ce ConfigurationError) Error() string {
	if ce.Field == "" {
		return ce.FilePath + ": " + ce.Message
	}
	return ce.FilePath + ": " + ce.Field + ": " + ce.Message
}

// DetailedError renders the error with its suggestions, one item per line.
func (ce ConfigurationError) DetailedError() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error in %s", ce.ErrorType, ce.FilePath)
	if ce.Field != "" {
		fmt.Fprintf(&b, " at %s", ce.Field)
	}
	fmt.Fprintf(&b, ":\n  %s", ce.Message)
	for _, s := range ce.Suggestions {
		fmt.Fprintf(&b, "\n  hint: %s", s)
	}
	return b.String()
}

// ConfigurationErrorCollection gathers every problem of one load so they can
// be fixed in one go.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

func (cec ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	default:
		return fmt.Sprintf("%d configuration errors: %s (and %d more)",
			len(cec.Errors), cec.Errors[0].Error(), len(cec.Errors)-1)
	}
}

// HasErrors reports whether anything was collected.
func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

// Count returns the number of collected errors.
func (cec *ConfigurationErrorCollection) Count() int {
	return len(cec.Errors)
}

// Add appends err.
func (cec *ConfigurationErrorCollection) Add(err ConfigurationError) {
	cec.Errors = append(cec.Errors, err)
}

// With adds err and returns the collection, for one-line returns.
func (cec *ConfigurationErrorCollection) With(err ConfigurationError) *ConfigurationErrorCollection {
	cec.Add(err)
	return cec
}

// GetDetailedReport lists every collected error with its hints.
func (cec *ConfigurationErrorCollection) GetDetailedReport() string {
	if len(cec.Errors) == 0 {
		return "configuration is valid"
	}

	reports := make([]string, 0, len(cec.Errors))
	for i, err := range cec.Errors {
		reports = append(reports, fmt.Sprintf("[%d/%d] %s", i+1, len(cec.Errors), err.DetailedError()))
	}
	return strings.Join(reports, "\n")
}

// NewConfigurationError creates a ConfigurationError without suggestions.
func NewConfigurationError(filePath, field, errorType, message string) ConfigurationError {
	return ConfigurationError{
		FilePath:  filePath,
		Field:     field,
		ErrorType: errorType,
		Message:   message,
	}
}

// NewConfigurationErrorCollection creates an empty collection.
func NewConfigurationErrorCollection() *ConfigurationErrorCollection {
	return &ConfigurationErrorCollection{}
}
