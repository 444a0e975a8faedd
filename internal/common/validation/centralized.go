// Package validation validates configuration structs and import documents
// with go-playground/validator, plus the trigger specific rules.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/keyword"
	"flow-triggers/internal/models"
)

// CentralizedValidator wraps a validator.Validate with the custom tags registered
type CentralizedValidator struct {
	validator *validator.Validate
}

// ValidationError is one failed rule on one field
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerTriggerValidators(v)

	// report json names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{
		validator: v,
	}
}

func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	validationErrors := cv.extractValidationErrors(err)
	if len(validationErrors) == 1 {
		return errors.ValidationError(validationErrors[0].Message).
			WithContext("field", validationErrors[0].Field)
	}

	messages := make([]string, len(validationErrors))
	for i, e := range validationErrors {
		messages[i] = e.Message
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrs {
			field := fieldPath(fieldError)
			validationErrors = append(validationErrors, ValidationError{
				Field:   field,
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: formatFieldError(field, fieldError),
				Param:   fieldError.Param(),
			})
		}
	} else {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "unknown",
			Tag:     "error",
			Message: err.Error(),
		})
	}

	return validationErrors
}

// fieldPath drops the root struct name from the namespace, so nested
// failures read like "triggers[2].trigger_type"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func formatFieldError(field string, err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, err.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, err.Param())
	case "required_if":
		return fmt.Sprintf("field '%s' is required when %s", field, err.Param())
	case "excluded_unless":
		return fmt.Sprintf("field '%s' must be empty unless %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, err.Param())
	case "trigger_type":
		return fmt.Sprintf("field '%s' has unknown trigger type %q", field, err.Value())
	case "keyword":
		return fmt.Sprintf("field '%s' must be a single word of at most %d characters", field, models.MaxKeywordLength)
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", field)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", field, err.Tag())
	}
}

// ParseCron parses a standard five-field cron spec
func ParseCron(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// ValidKeyword reports whether kw is a single word that keyword resolution would
// produce from itself
func ValidKeyword(kw string) bool {
	if kw == "" || len([]rune(kw)) > models.MaxKeywordLength {
		return false
	}
	first, ok := keyword.Resolve(kw)
	return ok && first == strings.ToLower(kw)
}

func registerTriggerValidators(v *validator.Validate) {
	v.RegisterValidation("trigger_type", func(fl validator.FieldLevel) bool {
		_, err := models.ParseTriggerType(fl.Field().String())
		return err == nil
	})

	// empty keywords are left to required/required_if
	v.RegisterValidation("keyword", func(fl validator.FieldLevel) bool {
		kw := fl.Field().String()
		return kw == "" || ValidKeyword(kw)
	})

	v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := ParseCron(fl.Field().String())
		return err == nil
	})
}

var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}
