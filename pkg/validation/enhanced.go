// Package validation provides enhanced validation with go-playground/validator integration
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Enhanced validator instance with custom validations
var (
	// Validate is the main validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validation functions
	Validate.RegisterValidation("thread_id", validateThreadID)
	Validate.RegisterValidation("checkpoint_id", validateCheckpointID)
	Validate.RegisterValidation("checkpoint_status", validateCheckpointStatus)
	Validate.RegisterValidation("checkpoint_type", validateCheckpointType)
	Validate.RegisterValidation("storage_backend", validateStorageBackend)
	Validate.RegisterValidation("codec", validateCodec)
	Validate.RegisterValidation("compression", validateCompression)
	Validate.RegisterValidation("uuid4", validateUUID4)
	Validate.RegisterValidation("semver", validateSemVer)

	// Register tag name function to use JSON tags for field names
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidateWithPlayground validates using go-playground/validator
func ValidateWithPlayground(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// formatValidationErrors converts validator errors to our custom format
func formatValidationErrors(err error) ValidationErrors {
	var errors ValidationErrors

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			errors = append(errors, ValidationError{
				Field:   fieldError.Field(),
				Value:   fieldError.Value(),
				Message: getErrorMessage(fieldError),
			})
		}
	}

	return errors
}

// getErrorMessage returns a human-readable error message
func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "len":
		return fmt.Sprintf("length must be exactly %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "uuid":
		return "must be a valid UUID"
	case "thread_id":
		return "must be a valid thread identifier (alphanumeric, underscore, hyphen, dot, colon)"
	case "checkpoint_id":
		return "must be a valid checkpoint identifier"
	case "checkpoint_status":
		return "must be a valid checkpoint status (active, expired, corrupted, archived)"
	case "checkpoint_type":
		return "must be a valid checkpoint type (manual, auto, error, milestone)"
	case "storage_backend":
		return "must be a valid storage backend (memory, sqlite, file, postgres)"
	case "codec":
		return "must be a valid codec (json, msgpack)"
	case "compression":
		return "must be a valid compression algorithm (none, gzip, zstd)"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}

// Custom validation functions for checkpoint-specific rules

// validateThreadID validates thread identifier format
func validateThreadID(fl validator.FieldLevel) bool {
	threadID := fl.Field().String()
	if threadID == "" {
		return false
	}

	// Thread ID must be alphanumeric with underscores, hyphens, dots, colons
	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_.:-]+$`, threadID)
	return matched && len(threadID) >= 1 && len(threadID) <= 128
}

// validateCheckpointID validates checkpoint identifier format
func validateCheckpointID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return false
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_.:-]+$`, id)
	return matched && len(id) <= 128
}

// validateCheckpointStatus validates checkpoint status values
func validateCheckpointStatus(fl validator.FieldLevel) bool {
	status := fl.Field().String()
	validStatuses := []string{"active", "expired", "corrupted", "archived"}

	for _, validStatus := range validStatuses {
		if status == validStatus {
			return true
		}
	}
	return false
}

// validateCheckpointType validates checkpoint type values
func validateCheckpointType(fl validator.FieldLevel) bool {
	typ := fl.Field().String()
	validTypes := []string{"manual", "auto", "error", "milestone"}

	for _, validType := range validTypes {
		if typ == validType {
			return true
		}
	}
	return false
}

// validateStorageBackend validates storage backend names
func validateStorageBackend(fl validator.FieldLevel) bool {
	backend := fl.Field().String()
	validBackends := []string{"memory", "sqlite", "file", "postgres"}

	for _, validBackend := range validBackends {
		if backend == validBackend {
			return true
		}
	}
	return false
}

// validateCodec validates payload codec names
func validateCodec(fl validator.FieldLevel) bool {
	codec := fl.Field().String()
	return codec == "json" || codec == "msgpack"
}

// validateCompression validates compression algorithm names
func validateCompression(fl validator.FieldLevel) bool {
	compression := fl.Field().String()
	validAlgorithms := []string{"none", "gzip", "zstd"}

	for _, validAlgorithm := range validAlgorithms {
		if compression == validAlgorithm {
			return true
		}
	}
	return false
}

// validateUUID4 validates UUID v4 format
func validateUUID4(fl validator.FieldLevel) bool {
	uuid := fl.Field().String()
	if uuid == "" {
		return false
	}

	// UUID v4 regex pattern
	matched, _ := regexp.MatchString(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`, uuid)
	return matched
}

// validateSemVer validates semantic version format
func validateSemVer(fl validator.FieldLevel) bool {
	version := fl.Field().String()
	if version == "" {
		return false
	}

	// Semantic version regex pattern (simplified)
	matched, _ := regexp.MatchString(`^(\d+)\.(\d+)\.(\d+)(-[\w\.-]+)?(\+[\w\.-]+)?$`, version)
	return matched
}

// ValidationConfig holds validation configuration
type ValidationConfig struct {
	StrictMode  bool `json:"strict_mode"`
	SkipMissing bool `json:"skip_missing"`
	MaxErrors   int  `json:"max_errors"`
}

// DefaultValidationConfig returns default validation configuration
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		StrictMode:  true,
		SkipMissing: false,
		MaxErrors:   10,
	}
}

// ValidateWithConfig validates with specific configuration
func ValidateWithConfig(s interface{}, config *ValidationConfig) error {
	if config == nil {
		config = DefaultValidationConfig()
	}

	err := ValidateWithPlayground(s)
	if err != nil {
		if validationErrors, ok := err.(ValidationErrors); ok {
			if config.MaxErrors > 0 && len(validationErrors) > config.MaxErrors {
				return ValidationErrors(validationErrors[:config.MaxErrors])
			}
		}
		return err
	}

	return nil
}

// MarshalValidationErrors marshals validation errors to JSON
func MarshalValidationErrors(errors ValidationErrors) ([]byte, error) {
	type ErrorResponse struct {
		Errors []ValidationError `json:"errors"`
		Count  int               `json:"count"`
	}

	response := ErrorResponse{
		Errors: errors,
		Count:  len(errors),
	}

	return json.Marshal(response)
}

// UnmarshalValidationErrors unmarshals validation errors from JSON
func UnmarshalValidationErrors(data []byte) (ValidationErrors, error) {
	type ErrorResponse struct {
		Errors []ValidationError `json:"errors"`
		Count  int               `json:"count"`
	}

	var response ErrorResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, err
	}

	return ValidationErrors(response.Errors), nil
}
