package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("scan session not found")
	ErrAlreadyProcessing = errors.New("scan already processing")
	ErrNotProcessing     = errors.New("no scan in progress")
	ErrSourceNotFound    = errors.New("source not found")
	ErrUpstream          = errors.New("upstream model failure")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
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
