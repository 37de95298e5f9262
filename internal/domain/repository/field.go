package repository

import "FluxDash/internal/domain/models"

// Field names a numeric column of the flux series.
type Field string

const (
	FieldObserved Field = models.FieldObservedFlux
	FieldAdjusted Field = models.FieldAdjustedFlux
)

// IsValidField returns true if f is a supported field.
func IsValidField(f Field) bool {
	switch f {
	case FieldObserved, FieldAdjusted:
		return true
	default:
		return false
	}
}

// DefaultField returns the default field.
func DefaultField() Field { return FieldObserved }

// NormalizeField converts raw string to a valid field (or default).
func NormalizeField(s string) Field {
	if s == "" {
		return DefaultField()
	}
	f := Field(s)
	if IsValidField(f) {
		return f
	}
	return DefaultField()
}
