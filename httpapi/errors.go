package httpapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing/core"
)

type errorBody struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Fields  []goerrors.FieldError `json:"fields,omitempty"`
}

func writeError(c *fiber.Ctx, err error) error {
	mapped := core.MapError(err)
	if mapped == nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	status := mapped.Code
	if status == 0 {
		status = fiber.StatusInternalServerError
	}
	message := strings.TrimSpace(mapped.Message)
	if status >= fiber.StatusInternalServerError && mapped.TextCode == core.BillingErrorInternal {
		message = "An unexpected error occurred"
	}
	return c.Status(status).JSON(fiber.Map{"error": errorBody{
		Code:    mapped.TextCode,
		Message: message,
		Fields:  mapped.AllValidationErrors(),
	}})
}

// errorHandler is the fiber fallback for errors escaping a handler.
func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": errorBody{
			Code:    core.BillingErrorBadInput,
			Message: fiberErr.Message,
		}})
	}
	return writeError(c, err)
}
