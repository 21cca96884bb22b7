package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrTemporary            = errors.New("temporary failure")
	ErrRetrieverUnavailable = errors.New("retriever unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ConfigError builds an ErrInvalidConfig for a single offending field.
func ConfigError(component, field string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s %s", component, ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}
