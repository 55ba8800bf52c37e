package models

import "strings"

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"path"`
	Message string `json:"message"`
}

// ValidationError is returned when a payload fails its schema checks.
// It lists every invalid field, not just the first.
type ValidationError struct {
	Fields []FieldError `json:"validationErrors"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns e when it holds at least one field error, nil otherwise.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
