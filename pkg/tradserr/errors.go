// Package tradserr provides the structured error taxonomy used across the
// FIX session and matching core: ProtocolError, ValidationError, StateError,
// TransportError and PersistenceError, per the propagation policy of the
// session and engine design.
package tradserr

import (
	"fmt"
	"runtime"
	"time"
)

// Code identifies the taxonomy bucket an error belongs to.
type Code string

const (
	// ProtocolError: malformed frame, bad checksum, missing envelope field.
	ErrMalformedFrame        Code = "MALFORMED_FRAME"
	ErrChecksumMismatch      Code = "CHECKSUM_MISMATCH"
	ErrMissingEnvelopeField  Code = "MISSING_ENVELOPE_FIELD"
	ErrUnknownMandatoryField Code = "UNKNOWN_MANDATORY_FIELD"

	// ValidationError: pre-trade checks on a New Order.
	ErrInvalidSymbol     Code = "INVALID_SYMBOL"
	ErrInvalidQuantity   Code = "INVALID_QUANTITY"
	ErrInvalidPrice      Code = "INVALID_PRICE"
	ErrMissingField      Code = "MISSING_FIELD"
	ErrDuplicateClOrdID  Code = "DUPLICATE_CLORDID"

	// StateError: cancel for unknown/terminal order, operation before logon.
	ErrOrderNotFound     Code = "ORDER_NOT_FOUND"
	ErrOrderTerminal     Code = "ORDER_TERMINAL"
	ErrNotLoggedIn       Code = "NOT_LOGGED_IN"
	ErrSequenceGap       Code = "SEQUENCE_GAP" // Category reports this one as protocol

	// TransportError: socket write/read failures, peer close.
	ErrWriteFailed Code = "WRITE_FAILED"
	ErrPeerClosed  Code = "PEER_CLOSED"

	// PersistenceError: store unavailable/slow; never fails matching.
	ErrPersistenceUnavailable Code = "PERSISTENCE_UNAVAILABLE"

	// Internal/matching
	ErrSymbolNotFound Code = "SYMBOL_NOT_FOUND"
	ErrMatchingFailed Code = "MATCHING_FAILED"
)

// Severity classifies how loudly an error should be surfaced to operators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FixSimError is the structured error type used throughout the core.
type FixSimError struct {
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Cause     error                  `json:"-"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

func (e *FixSimError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

func (e *FixSimError) Unwrap() error { return e.Cause }

// WithDetail attaches a key/value detail, e.g. the rejected symbol or field.
func (e *FixSimError) WithDetail(key string, value interface{}) *FixSimError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying cause.
func (e *FixSimError) WithCause(cause error) *FixSimError {
	e.Cause = cause
	return e
}

// WithTraceID attaches a correlation id (e.g. a session or order id).
func (e *FixSimError) WithTraceID(traceID string) *FixSimError {
	e.TraceID = traceID
	return e
}

// New creates a FixSimError with caller location captured.
func New(code Code, message string) *FixSimError {
	_, file, line, _ := runtime.Caller(1)
	return &FixSimError{
		Code:      code,
		Message:   message,
		Severity:  severityFor(code),
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
	}
}

// Newf creates a FixSimError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *FixSimError {
	err := New(code, fmt.Sprintf(format, args...))
	// New recorded this frame; re-capture so File/Line name Newf's caller.
	_, err.File, err.Line, _ = runtime.Caller(1)
	return err
}

// Wrap wraps an existing error with taxonomy context.
func Wrap(err error, code Code, message string) *FixSimError {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &FixSimError{
		Code:      code,
		Message:   message,
		Severity:  severityFor(code),
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Cause:     err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *FixSimError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether err (or something in its chain) carries code.
func Is(err error, code Code) bool {
	for err != nil {
		if fse, ok := err.(*FixSimError); ok && fse.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// As finds the first *FixSimError in err's chain.
func As(err error, target **FixSimError) bool {
	if err == nil {
		return false
	}
	if fse, ok := err.(*FixSimError); ok {
		*target = fse
		return true
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return As(unwrapper.Unwrap(), target)
	}
	return false
}

// Category returns the taxonomy bucket (Protocol/Validation/State/Transport/Persistence)
// for a given code, used to decide how a Session reacts per the propagation policy.
func Category(code Code) string {
	switch code {
	case ErrMalformedFrame, ErrChecksumMismatch, ErrMissingEnvelopeField, ErrUnknownMandatoryField, ErrSequenceGap:
		return "protocol"
	case ErrInvalidSymbol, ErrInvalidQuantity, ErrInvalidPrice, ErrMissingField, ErrDuplicateClOrdID:
		return "validation"
	case ErrOrderNotFound, ErrOrderTerminal, ErrNotLoggedIn:
		return "state"
	case ErrWriteFailed, ErrPeerClosed:
		return "transport"
	case ErrPersistenceUnavailable:
		return "persistence"
	default:
		return "internal"
	}
}

// IsRetryable reports whether the error's condition may clear on its own.
func IsRetryable(err error) bool {
	var fse *FixSimError
	if !As(err, &fse) {
		return false
	}
	switch fse.Code {
	case ErrPersistenceUnavailable, ErrWriteFailed:
		return true
	default:
		return false
	}
}

func severityFor(code Code) Severity {
	switch code {
	case ErrPersistenceUnavailable, ErrMatchingFailed:
		return SeverityHigh
	case ErrChecksumMismatch, ErrMalformedFrame, ErrSequenceGap:
		return SeverityMedium
	case ErrInvalidSymbol, ErrInvalidQuantity, ErrInvalidPrice, ErrMissingField, ErrDuplicateClOrdID:
		return SeverityLow
	default:
		return SeverityLow
	}
}
