package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "shopmgr/internal/errors"
)

// maxBodySize bounds JSON request bodies. License tokens are well under 1 KiB.
const maxBodySize = 16 << 10

// RequestValidator decodes JSON request bodies and checks their struct tags.
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator reports field errors under their JSON names.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validator: v}
}

// Bind decodes r's body into dst with render.Bind and validates it. A
// non-nil result is a 400 problem ready to render.
func (rv *RequestValidator) Bind(r *http.Request, dst render.Binder) *apierrors.ProblemDetails {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)

	if err := render.Bind(r, dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierrors.NewProblemDetails(http.StatusRequestEntityTooLarge, apierrors.TypePayloadTooLarge,
				"Payload Too Large", "The request body exceeds the maximum allowed size", r.URL.Path)
		}
		return apierrors.Validation(r.URL.Path, "Request body must be a JSON object", nil)
	}

	if err := rv.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return apierrors.Validation(r.URL.Path, err.Error(), nil)
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = formatFieldError(fe)
		}
		return apierrors.Validation(r.URL.Path, "Request validation failed", fields)
	}
	return nil
}

func formatFieldError(err validator.FieldError) string {
	field, param := err.Field(), err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "contains":
		return fmt.Sprintf("%s must contain %q", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// ContentTypeValidator rejects bodies whose Content-Type is not one of
// contentTypes.
func ContentTypeValidator(contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			problem := apierrors.NewProblemDetails(
				http.StatusUnsupportedMediaType,
				apierrors.TypeValidation,
				"Unsupported Media Type",
				fmt.Sprintf("Content-Type must be one of: %s", strings.Join(contentTypes, ", ")),
				r.URL.Path,
			)
			_ = render.Render(w, r, problem)
		})
	}
}
