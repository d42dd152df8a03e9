package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can dispatch on them structurally.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransient is retried locally with backoff and never surfaced.
	KindTransient
	// KindFatal aborts the single operation without retry.
	KindFatal
	// KindDrift means the ledger disagrees with the exchange balance.
	KindDrift
	// KindCorrupt means persisted state cannot be trusted.
	KindCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindDrift:
		return "drift"
	case KindCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Error is a classified error. Code carries the exchange error code when known.
type Error struct {
	Kind ErrorKind
	Op   string
	Code int64
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// DriftError describes a ledger/balance mismatch.
type DriftError struct {
	Ledger    float64
	Balance   float64
	Tolerance float64
}

func (d *DriftError) Error() string {
	return fmt.Sprintf("ledger holds %.8f, exchange reports %.8f (tolerance %.8f)", d.Ledger, d.Balance, d.Tolerance)
}
