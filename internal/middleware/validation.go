package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/license"
)

// DefaultMaxBodySize bounds decoded request bodies
const DefaultMaxBodySize = 64 * 1024

// Validator decodes request bodies and validates them with struct tags.
// The licensekey tag is registered alongside the built-in ones.
type Validator struct {
	validate    *validator.Validate
	maxBodySize int64
}

// NewValidator creates a request validator
func NewValidator() *Validator {
	v := license.NewValidator()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate:    v,
		maxBodySize: DefaultMaxBodySize,
	}
}

// DecodeJSON reads a JSON body into dst and validates it. Returned errors
// are *apierrors.APIError values ready for the error handler.
func (v *Validator) DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apierrors.New(http.StatusBadRequest, apierrors.CodeInvalidRequest, "Request body is required")
	}

	body := http.MaxBytesReader(w, r.Body, v.maxBodySize)
	if err := render.DecodeJSON(body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apierrors.NewWithDetails(
				http.StatusRequestEntityTooLarge,
				apierrors.CodePayloadTooLarge,
				"Request body exceeds maximum allowed size",
				map[string]interface{}{"max_size": v.maxBodySize},
			)
		case errors.Is(err, io.EOF):
			return apierrors.New(http.StatusBadRequest, apierrors.CodeInvalidRequest, "Request body is required")
		default:
			return apierrors.InvalidRequestWithError(err)
		}
	}

	return v.Struct(dst)
}

// Struct validates a struct and returns validation errors
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(validationErrors)
}

// Var validates a single named value such as a path parameter
func (v *Validator) Var(field string, value interface{}, tag string) error {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		// Var errors carry an empty field name
		return apierrors.ErrValidation(field, field+formatValidationError(fieldErrs[0]))
	}
	return apierrors.InvalidRequestWithError(err)
}

// ContentTypeValidator ensures requests with bodies declare an accepted
// content type
func ContentTypeValidator(errorHandler *apierrors.ErrorHandler, contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				errorHandler.HandleError(w, r, apierrors.New(
					http.StatusUnsupportedMediaType,
					apierrors.CodeUnsupportedMedia,
					"Content-Type header is required",
				))
				return
			}

			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusUnsupportedMediaType,
				apierrors.CodeUnsupportedMedia,
				"Unsupported content type",
				map[string]interface{}{
					"content_type": contentType,
					"allowed":      contentTypes,
				},
			))
		})
	}
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case license.KeyTag:
		return fmt.Sprintf("%s must be a well-formed license key", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
