package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing/core"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.BillingErrorInternal)
}

func commandValidationError(field string, message string) error {
	return goerrors.NewValidation("command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.BillingErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func commandWrapValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	// Wrap keeps the category of a rich source, so set it after wrapping.
	wrapped := goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.BillingErrorBadInput)
	wrapped.Category = goerrors.CategoryValidation
	return wrapped
}
