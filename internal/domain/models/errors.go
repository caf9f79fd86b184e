package models

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrOutOfOrder      = errors.New("out of order input")
	ErrInvalidBlock    = errors.New("invalid block")
	ErrInvariant       = errors.New("invariant violation")
	ErrSessionHalted   = errors.New("session halted")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrUnknownPattern  = errors.New("unknown pattern")
)

// ConfigurationError is raised at construction, never mid-session.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// OutOfOrderInputError rejects a block whose index is not lastIndex+1.
type OutOfOrderInputError struct {
	Expected int
	Got      int
}

func (e *OutOfOrderInputError) Error() string {
	return fmt.Sprintf("out of order block: expected index %d, got %d", e.Expected, e.Got)
}

func (e *OutOfOrderInputError) Is(target error) bool { return target == ErrOutOfOrder }

type InvalidBlockError struct {
	Index  int
	Reason string
}

func (e *InvalidBlockError) Error() string {
	return fmt.Sprintf("invalid block %d: %s", e.Index, e.Reason)
}

func (e *InvalidBlockError) Is(target error) bool { return target == ErrInvalidBlock }

// InvariantViolation is fatal for the session that raised it.
type InvariantViolation struct {
	Component  string
	Pattern    PatternID
	BlockIndex int
	Detail     string
}

func (e *InvariantViolation) Error() string {
	if e.Pattern.Valid() {
		return fmt.Sprintf("invariant violation in %s (%s, block %d): %s", e.Component, e.Pattern, e.BlockIndex, e.Detail)
	}
	return fmt.Sprintf("invariant violation in %s (block %d): %s", e.Component, e.BlockIndex, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }

// BlockError attaches the block and the failing component to an underlying error.
type BlockError struct {
	BlockIndex int
	Component  string
	Err        error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d: %s: %v", e.BlockIndex, e.Component, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }
