package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BillingErrorBadInput             = "BILLING_BAD_INPUT"
	BillingErrorPreconditionViolated = "BILLING_PRECONDITION_VIOLATED"
	BillingErrorMutationFailed       = "BILLING_MUTATION_FAILED"
	BillingErrorDeliveryFailed       = "BILLING_DELIVERY_FAILED"
	BillingErrorNotFound             = "BILLING_NOT_FOUND"
	BillingErrorStateUnavailable     = "BILLING_STATE_UNAVAILABLE"
	BillingErrorRateLimited          = "BILLING_RATE_LIMITED"
	BillingErrorInternal             = "BILLING_INTERNAL_ERROR"
)

// NewBadInputError builds a validation failure. Jobs carrying bad input are
// never retried.
func NewBadInputError(message string, fields ...goerrors.FieldError) *goerrors.Error {
	var err *goerrors.Error
	if len(fields) > 0 {
		err = goerrors.NewValidation(message, fields...)
	} else {
		err = goerrors.New(message, goerrors.CategoryBadInput)
	}
	return ensureBillingErrorEnvelope(err.WithTextCode(BillingErrorBadInput))
}

func NewPreconditionViolatedError(message string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(BillingErrorPreconditionViolated)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return ensureBillingErrorEnvelope(err)
}

func NewMutationFailedError(err error, message string) *goerrors.Error {
	return ensureBillingErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryOperation, message).
			WithTextCode(BillingErrorMutationFailed),
	)
}

func NewStateUnavailableError(err error, message string) *goerrors.Error {
	return ensureBillingErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryExternal, message).
			WithTextCode(BillingErrorStateUnavailable),
	)
}

// NewDeliveryFailedError reports an endpoint that exhausted its attempts.
func NewDeliveryFailedError(cause error, endpointID string, eventID string, attempts int) *goerrors.Error {
	return ensureBillingErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryExternal, "webhooks: delivery failed after retries").
			WithTextCode(BillingErrorDeliveryFailed).
			WithMetadata(map[string]any{
				"endpoint_id": endpointID,
				"event_id":    eventID,
				"attempts":    attempts,
			}),
	)
}

// IsDeliveryFailed reports whether err is a final delivery failure.
func IsDeliveryFailed(err error) bool {
	cause := billingCause(err)
	return cause != nil && cause.TextCode == BillingErrorDeliveryFailed
}

func NewNotFoundError(message string) *goerrors.Error {
	return ensureBillingErrorEnvelope(
		goerrors.New(message, goerrors.CategoryNotFound).
			WithTextCode(BillingErrorNotFound),
	)
}

// MapError converts arbitrary errors into the billing error envelope used by
// the HTTP and command surfaces.
func MapError(err error) *goerrors.Error {
	return billingErrorMapper(err)
}

// HTTPStatus returns the status code that err maps to.
func HTTPStatus(err error) int {
	mapped := billingErrorMapper(err)
	if mapped == nil {
		return http.StatusOK
	}
	return mapped.Code
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	richErr := billingCause(err)
	if richErr == nil {
		richErr = innermostRichError(err)
	}
	if richErr == nil {
		return false
	}
	switch richErr.TextCode {
	case BillingErrorBadInput, BillingErrorPreconditionViolated:
		return true
	}
	switch richErr.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return true
	}
	return false
}

func billingErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	// Command runners wrap handler errors in their own envelope. Wrapping a
	// rich error clones it under the runner's text code, so the category is
	// what survives.
	if cause := billingCause(err); cause != nil {
		return ensureBillingErrorEnvelope(cause)
	}
	if errors.Is(err, ErrNotFound) {
		return newBillingError(ErrNotFound.Error(), goerrors.CategoryNotFound, BillingErrorNotFound)
	}

	root := rootCause(err)
	var rootRich *goerrors.Error
	if !goerrors.As(root, &rootRich) {
		msg := strings.ToLower(strings.TrimSpace(root.Error()))
		switch {
		case strings.Contains(msg, "not found"):
			return newBillingError(root.Error(), goerrors.CategoryNotFound, BillingErrorNotFound)
		case strings.Contains(msg, "already processed"):
			return newBillingError(root.Error(), goerrors.CategoryConflict, BillingErrorPreconditionViolated)
		case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
			return newBillingError(root.Error(), goerrors.CategoryBadInput, BillingErrorBadInput)
		}
	}

	if rich := innermostRichError(err); rich != nil {
		return ensureBillingErrorEnvelope(withBillingTextCode(rich))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBillingErrorEnvelope(mapped)
}

// billingCause returns the innermost error in the chain that carries a
// BILLING_ text code.
func billingCause(err error) *goerrors.Error {
	var found *goerrors.Error
	walkErrors(err, func(e error) {
		if rich, ok := e.(*goerrors.Error); ok && strings.HasPrefix(rich.TextCode, "BILLING_") {
			found = rich
		}
	})
	return found
}

func innermostRichError(err error) *goerrors.Error {
	var found *goerrors.Error
	walkErrors(err, func(e error) {
		if rich, ok := e.(*goerrors.Error); ok {
			found = rich
		}
	})
	return found
}

func withBillingTextCode(err *goerrors.Error) *goerrors.Error {
	if strings.HasPrefix(err.TextCode, "BILLING_") {
		return err
	}
	out := err.Clone()
	out.TextCode = defaultBillingTextCode(out.Category)
	return out
}

// rootCause follows single-error unwrapping to the end of the chain.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// walkErrors visits err and everything it wraps, outermost first.
func walkErrors(err error, visit func(error)) {
	if err == nil {
		return
	}
	visit(err)
	switch wrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			walkErrors(inner, visit)
		}
	case interface{ Unwrap() error }:
		walkErrors(wrapped.Unwrap(), visit)
	}
}

func newBillingError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBillingErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBillingErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = billingHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBillingTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBillingTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BillingErrorBadInput
	case goerrors.CategoryNotFound:
		return BillingErrorNotFound
	case goerrors.CategoryConflict:
		return BillingErrorPreconditionViolated
	case goerrors.CategoryOperation:
		return BillingErrorMutationFailed
	case goerrors.CategoryExternal:
		return BillingErrorDeliveryFailed
	default:
		return BillingErrorInternal
	}
}

func billingHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
