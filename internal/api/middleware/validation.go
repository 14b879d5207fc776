package middleware

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/vitaliisemenov/codepush-acquisition/internal/api/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidationMiddleware rejects request bodies the handlers can't possibly
// parse before they reach a handler: wrong content type or an oversized
// body. Field-level validation of the decoded request (missing
// deploymentKey, malformed appVersion, and so on) happens per-handler via
// ValidateStruct, since the shape of the body differs by route.
func ValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodDelete || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType != "" && contentType != "application/json" {
			writeValidationError(w, r, "Content-Type must be application/json")
			return
		}

		const maxRequestSize = 1 << 20 // 1MB
		if r.ContentLength > maxRequestSize {
			writeValidationError(w, r, "request body too large (max 1MB)")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ValidateStruct validates a struct using validator tags.
//
// Example usage in a handler, after the dual-naming query/body parse has
// produced a canonical request:
//
//	req, err := parseUpdateCheckRequest(r)
//	if err != nil {
//	    return err
//	}
//	if err := middleware.ValidateStruct(req); err != nil {
//	    return err
//	}
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidationError represents a field-level validation error.
type ValidationError struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
	Hint  string `json:"hint,omitempty"`
}

// FormatValidationErrors converts validator errors to a ValidationError
// slice suitable for an APIError's Details field.
func FormatValidationErrors(err error) []ValidationError {
	var errors []ValidationError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			errors = append(errors, ValidationError{
				Field: e.Field(),
				Issue: e.Tag(),
				Hint:  getValidationHint(e),
			})
		}
	}

	return errors
}

// getValidationHint returns a human-readable hint for a validation error.
func getValidationHint(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Must be at least " + e.Param() + " characters"
	case "max":
		return "Must be at most " + e.Param() + " characters"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "url":
		return "Must be a valid URL"
	default:
		return "Validation failed: " + e.Tag()
	}
}

// writeValidationError writes a validation error through the shared
// APIError envelope, same as every other error path in this service.
func writeValidationError(w http.ResponseWriter, r *http.Request, message string) {
	requestID := GetRequestID(r.Context())
	apierrors.WriteError(w, apierrors.ValidationError(message).WithRequestID(requestID))
}
