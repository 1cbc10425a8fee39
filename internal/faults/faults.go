// Package faults classifies the errors raised while ingesting reports and
// running scheduled work, so callers can decide between retrying an item at
// the next tick, skipping it, or aborting the whole invocation.
package faults

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown  Kind = "unknown"
	TransientIO  Kind = "transient_io"
	ParseFailure Kind = "parse_failure"
	Validation   Kind = "validation_failure"
	StoreFailure Kind = "store_failure"
	FatalConfig  Kind = "fatal_config"
)

// Error attaches a Kind and the failing operation to a cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) error {
	return New(TransientIO, op, err)
}

func Parse(op string, err error) error {
	return New(ParseFailure, op, err)
}

func Invalid(op string, err error) error {
	return New(Validation, op, err)
}

func Store(op string, err error) error {
	return New(StoreFailure, op, err)
}

func Config(op string, err error) error {
	return New(FatalConfig, op, err)
}

func Configf(format string, args ...interface{}) error {
	return New(FatalConfig, "", fmt.Errorf(format, args...))
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
