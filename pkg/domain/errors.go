package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced listing, claim, or delivery does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrInvalidTransition is returned when a status change breaks an enforced state machine.
type ErrInvalidTransition struct {
	Entity EntityType
	ID     string
	From   string
	To     string
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// ErrValidation reports malformed input such as a negative quantity.
type ErrValidation struct {
	Entity EntityType
	Field  string
	Reason string
}

func (e ErrValidation) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Entity, e.Field, e.Reason)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}

// IsInvalidTransition reports whether err wraps an ErrInvalidTransition.
func IsInvalidTransition(err error) bool {
	var target ErrInvalidTransition
	return errors.As(err, &target)
}

// IsValidation reports whether err wraps an ErrValidation.
func IsValidation(err error) bool {
	var target ErrValidation
	return errors.As(err, &target)
}
