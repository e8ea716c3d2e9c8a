package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/frobware/go-compressor/logging"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	FieldPath string // Dot-notation field path (e.g., "dataplane.mode")
	Message   string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "validation failed with %d error(s):", len(ve))
	for i, err := range ve {
		fmt.Fprintf(&sb, "\n  %d. %s: %s", i+1, err.FieldPath, err.Message)
	}
	return sb.String()
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("log_spec", validateLogSpec); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("abs_path", validateAbsPath); err != nil {
		panic(err)
	}

	// Report fields by their TOML key.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the logging and dataplane sections. The rule lists
// are not validated here; bad entries are skipped when the rule sets
// are built.
func (c *Config) Validate() error {
	var validationErrors ValidationErrors

	if err := validate.Struct(c.Logging); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "logging")...)
	}
	if err := validate.Struct(c.Dataplane); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "dataplane")...)
	}

	if len(validationErrors) > 0 {
		return validationErrors
	}
	return nil
}

func validateLogSpec(fl validator.FieldLevel) bool {
	_, err := logging.ParseSpec(fl.Field().String())
	return err == nil
}

func validateAbsPath(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}

// convertValidatorErrors converts go-playground/validator errors to
// ValidationErrors.
func convertValidatorErrors(err error, fieldPrefix string) ValidationErrors {
	var validationErrors ValidationErrors

	var validatorErrs validator.ValidationErrors
	if !errors.As(err, &validatorErrs) {
		return ValidationErrors{{FieldPath: fieldPrefix, Message: err.Error()}}
	}

	for _, e := range validatorErrs {
		fieldPath := fieldPrefix
		if e.Field() != "" {
			fieldPath = fieldPrefix + "." + e.Field()
		}
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: fieldPath,
			Message:   validationMessage(e),
		})
	}

	return validationErrors
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "log_spec":
		return "must be a log spec such as \"info\" or \"warn,bootstrap=debug\""
	case "abs_path":
		return "must be an absolute path"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}
