package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure for recovery and telemetry.
type Kind string

const (
	// KindValidation is a local input problem the user corrects.
	KindValidation Kind = "validation"
	// KindGateway is a payment confirmation failure; retry without a new charge.
	KindGateway Kind = "gateway"
	// KindNetwork is a transport failure; retry the whole operation.
	KindNetwork Kind = "network"
	// KindRemoteBusiness is a backend rejection for domain reasons, e.g. stock unavailable.
	KindRemoteBusiness Kind = "remote_business"
	// KindPartialFailure means payment was captured but the order was not recorded.
	KindPartialFailure Kind = "partial_failure"
	// KindAuthExpired means the identity check failed.
	KindAuthExpired Kind = "auth_expired"
	// KindInternal is anything unclassified.
	KindInternal Kind = "internal"
)

// Error represents an application error
type Error struct {
	Kind    Kind              `json:"kind"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithCode returns a copy of e carrying a machine-readable remote code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func Gateway(message string, err error) *Error {
	return New(KindGateway, message, err)
}

func Network(message string, err error) *Error {
	return New(KindNetwork, message, err)
}

func RemoteBusiness(message string, err error) *Error {
	return New(KindRemoteBusiness, message, err)
}

func PartialFailure(message string, err error) *Error {
	return New(KindPartialFailure, message, err)
}

func AuthExpired(message string, err error) *Error {
	return New(KindAuthExpired, message, err)
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage maps err to the single message shown to the shopper.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		switch appErr.Kind {
		case KindValidation, KindGateway, KindRemoteBusiness:
			return appErr.Message
		case KindNetwork:
			return "We could not reach the store. Please check your connection and try again."
		case KindPartialFailure:
			return "Your payment was received but we could not record your order. Please contact support and do not pay again."
		case KindAuthExpired:
			return "Your session has expired. Please sign in again."
		}
	}
	return "Something went wrong. Please try again."
}

// Sentinel errors
var (
	ErrBusy              = stderrors.New("a checkout transition is already in progress")
	ErrInvalidTransition = stderrors.New("invalid checkout transition")
	ErrNotRetryable      = stderrors.New("checkout attempt cannot be retried")
)
