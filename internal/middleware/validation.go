package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/hpatro/valkey-http/internal/errors"
)

// FieldError describes one failed validation rule
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RequestValidator decodes JSON bodies and validates them using struct tags
type RequestValidator struct {
	validator *validator.Validate
	logger    *slog.Logger
}

// NewRequestValidator creates a RequestValidator that reports JSON field names
func NewRequestValidator(logger *slog.Logger) *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &RequestValidator{
		validator: v,
		logger:    logger.With(slog.String("component", "request_validator")),
	}
}

// Decode reads the JSON body of r into dst and validates it.
// Any failure is returned as a 400 APIError.
func (rv *RequestValidator) Decode(r *http.Request, dst interface{}) *apierrors.APIError {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		rv.logger.DebugContext(r.Context(), "invalid request body",
			slog.String("error", err.Error()),
			slog.String("request_id", GetReqID(r.Context())),
		)
		return apierrors.MalformedRequestWithError(err)
	}

	if err := rv.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return apierrors.MalformedRequestWithError(err)
		}
		details := make([]FieldError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, FieldError{Field: fe.Field(), Message: formatFieldError(fe)})
		}
		return apierrors.NewWithDetails(http.StatusBadRequest, "MALFORMED_REQUEST", "Malformed command request", details)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
