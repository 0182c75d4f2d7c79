// Package apperr defines the error taxonomy shared by the pipeline stages and
// the classification used to decide between acknowledging and retrying.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

// Kind is the retry class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindNotFound
	KindCredential
	KindTransient
	KindEmptyGeneration
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindNotFound:
		return "not_found"
	case KindCredential:
		return "credential"
	case KindTransient:
		return "transient"
	case KindEmptyGeneration:
		return "empty_generation"
	default:
		return "unknown"
	}
}

// Permanent reports whether retrying the same input cannot succeed.
func (k Kind) Permanent() bool {
	return k != KindTransient
}

var (
	ErrMissingReference = &InputError{Msg: "notification has neither message reference nor cursor"}
	ErrNotFound         = errors.New("no new message found")
	ErrEmptyGeneration  = errors.New("generated draft is empty")
)

// InputError reports a malformed or incomplete request.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return "invalid input: " + e.Msg }

// CredentialError lists the credential pieces that could not be resolved.
type CredentialError struct {
	Account string
	Missing []string
	Err     error
}

func (e *CredentialError) Error() string {
	s := "credentials unavailable"
	if e.Account != "" {
		s += " for " + e.Account
	}
	if len(e.Missing) > 0 {
		s += "; missing: " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransientError marks an upstream failure that may succeed on redelivery.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// StatusError carries an HTTP status from an upstream other than Google APIs.
type StatusError struct {
	Op   string
	Code int
	Err  error
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: status %d: %v", e.Op, e.Code, e.Err) }
func (e *StatusError) Unwrap() error { return e.Err }

// PartialSuccessWarning is attached to an outcome whose primary effect
// succeeded while a secondary write did not. It is not a failure.
type PartialSuccessWarning struct {
	What string
	Err  error
}

func (w *PartialSuccessWarning) Error() string {
	return fmt.Sprintf("partial success: %s: %v", w.What, w.Err)
}

func (w *PartialSuccessWarning) Unwrap() error { return w.Err }

// Classify maps any error onto the taxonomy. Unknown errors are treated as
// transient so that redelivery gets another chance.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var inputErr *InputError
	var credErr *CredentialError
	var transErr *TransientError
	switch {
	case errors.As(err, &inputErr):
		return KindInput
	case errors.As(err, &credErr):
		return KindCredential
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmptyGeneration):
		return KindEmptyGeneration
	case errors.As(err, &transErr):
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindTransient
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Code)
	}
	return KindTransient
}

// IsRetryableStatus reports whether an HTTP status from an upstream API
// should be retried.
func IsRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func classifyStatus(code int) Kind {
	switch {
	case IsRetryableStatus(code):
		return KindTransient
	case code == 401:
		return KindCredential
	case code == 404:
		return KindNotFound
	default:
		return KindInput
	}
}
