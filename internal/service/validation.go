package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"roombook/internal/models"
	"roombook/internal/schedule"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors matches ErrInvalidInput with errors.Is.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

func (v ValidationErrors) Unwrap() error {
	return ErrInvalidInput
}

// Validator checks request payloads against their struct tags.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Регистрация не падает для корректных имён тегов
	_ = v.RegisterValidation("clock", validateClock)
	_ = v.RegisterValidation("date", validateDate)
	return &Validator{validate: v}
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := schedule.ParseClock(strings.TrimSpace(fl.Field().String()))
	return err == nil
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(models.DateLayout, strings.TrimSpace(fl.Field().String()))
	return err == nil
}

func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translateValidationErrors(validationErrs)
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, 0, len(errs))
	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of [%s]", err.Field(), err.Param())
		case "url":
			message = fmt.Sprintf("%s must be a valid URL", err.Field())
		case "email":
			message = fmt.Sprintf("%s must be a valid email", err.Field())
		case "clock":
			message = fmt.Sprintf("%s must be in HH:MM 24-hour format", err.Field())
		case "date":
			message = fmt.Sprintf("%s must be in YYYY-MM-DD format", err.Field())
		}

		out = append(out, ValidationError{Field: err.Field(), Message: message})
	}
	return out
}
