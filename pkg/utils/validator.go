package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs the `validate` tags of data and returns field -> message,
// or nil when the struct is valid.
func ValidateStruct(data any) map[string]string {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}

	fieldErrors := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fe := range validationErrors {
			fieldErrors[fe.Field()] = errorMessage(fe)
		}
	}

	return fieldErrors
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Minimum value is %s", fe.Param())
	case "max":
		return fmt.Sprintf("Maximum value is %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("Must be greater than %s", fe.Param())
	case "nefield":
		return fmt.Sprintf("Must differ from %s", fe.Param())
	case "required_if", "required_unless":
		return "This field is required for the selected payment method"
	case "excluded_unless":
		return "This field is not allowed for the selected payment method"
	case "datetime":
		return fmt.Sprintf("Must be a date in format %s", fe.Param())
	case "oneof":
		options := strings.ReplaceAll(fe.Param(), " ", ", ")
		return fmt.Sprintf("Must be one of: %s", options)
	case "uuid", "uuid4":
		return "Must be a valid UUID"
	case "e164":
		return "Must be a phone number in E.164 format"
	case "numeric":
		return "Must contain digits only"
	case "len":
		return fmt.Sprintf("Must be exactly %s characters", fe.Param())
	default:
		return fmt.Sprintf("Invalid %s field", fe.Field())
	}
}

// FormatValidationErrors flattens the field map into one stable string.
func FormatValidationErrors(fieldErrors map[string]string) string {
	msgs := make([]string, 0, len(fieldErrors))
	for field, msg := range fieldErrors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
