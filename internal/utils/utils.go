package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type CustomErrorResponse struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func ValidationErr(err validator.ValidationErrors) []CustomErrorResponse {
	var errors []CustomErrorResponse
	for _, fieldErr := range err {
		errors = append(errors, CustomErrorResponse{
			Field:   fieldErr.Field(),
			Tag:     fieldErr.ActualTag(),
			Message: GetErrorMessage(fieldErr),
		})
	}
	return errors
}

func GetErrorMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required", "required_if":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Must be at most %s.", fe.Param())
	case "min":
		return fmt.Sprintf("Must be at least %s.", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	case "uuid4":
		return "Must be a UUID."
	default:
		return "Unknown validation error."
	}
}
