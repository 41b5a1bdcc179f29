package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level failure talking to the exchange.
// Retriable network errors are the "transient" class: reads retry them with backoff.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "klines", "account")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// RequestError is a rejection of the request itself: malformed parameters,
// bad signature, missing permission. Never retriable.
type RequestError struct {
	Op     string
	Status int    // HTTP status, 0 if rejected before sending
	Code   string // exchange business code, if any
	Msg    string
}

func (e *RequestError) Error() string {
	s := "request rejected [" + e.Op + "]"
	if e.Status != 0 {
		s += " status=" + strconv.Itoa(e.Status)
	}
	if e.Code != "" {
		s += " code=" + e.Code
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *RequestError) IsRetriable() bool {
	return false
}

// IsRequestError reports whether err is (or wraps) a RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// AmbiguousOrderError means an order submission may or may not have been
// accepted by the exchange. It must be reconciled, never resubmitted.
type AmbiguousOrderError struct {
	ClientOrderID string
	Symbol        string
	Err           error
}

func (e *AmbiguousOrderError) Error() string {
	return fmt.Sprintf("order %s on %s in ambiguous state: %v", e.ClientOrderID, e.Symbol, e.Err)
}

func (e *AmbiguousOrderError) IsRetriable() bool {
	return false
}

func (e *AmbiguousOrderError) Unwrap() error {
	return e.Err
}

// IsAmbiguous reports whether err is (or wraps) an AmbiguousOrderError.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousOrderError
	return errors.As(err, &ae)
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrOrderNotFound is returned by order queries when the exchange has no such order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientCandles is returned by strategies that need a longer history.
	ErrInsufficientCandles = errors.New("insufficient candles")
)
