package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FormatValidationError flattens validator errors into field -> message.
// Errors of any other kind end up under the "request" key.
func FormatValidationError(err error) map[string]string {
	result := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		result["request"] = err.Error()
		return result
	}

	for _, fe := range validationErrs {
		field := strings.ToLower(fe.Field())

		switch fe.Tag() {
		case "required":
			result[field] = fmt.Sprintf("%s is required", field)
		case "min":
			result[field] = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "max":
			result[field] = fmt.Sprintf("%s must be at most %s", field, fe.Param())
		case "gt":
			result[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "gte":
			result[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
		case "gtfield":
			result[field] = fmt.Sprintf("%s must be after %s", field, strings.ToLower(fe.Param()))
		case "nefield":
			result[field] = fmt.Sprintf("%s must differ from %s", field, strings.ToLower(fe.Param()))
		default:
			result[field] = fmt.Sprintf("%s is invalid", field)
		}
	}

	return result
}
