package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers sentinel-authz validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("telemetry_output", validateTelemetryOutput); err != nil {
		return fmt.Errorf("failed to register telemetry_output validator: %w", err)
	}
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateTelemetryOutput accepts "stdout" or "file://<absolute-path>".
func validateTelemetryOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" {
		return true
	}
	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

// validateAuditOutput accepts "memory", "stdout" or "file://<absolute-dir>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == AuditOutputMemory || output == AuditOutputStdout {
		return true
	}
	if strings.HasPrefix(output, auditFilePrefix) {
		dir := strings.TrimPrefix(output, auditFilePrefix)
		return dir != "" && filepath.IsAbs(dir)
	}
	return false
}

// validateDuration accepts positive time.ParseDuration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.validateModelSource(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	return nil
}

// validateModelSource ensures exactly one of model.path, model.text and model.sections is set.
func (c *Config) validateModelSource() error {
	switch c.Model.sources() {
	case 0:
		return errors.New("model: one of path, text or sections is required")
	case 1:
		return nil
	default:
		return errors.New("model: specify path, text OR sections, not several")
	}
}

// validateWatch ensures policy.watch is only used with a policy file.
func (c *Config) validateWatch() error {
	if c.Policy.Watch && c.Policy.Adapter != AdapterFile {
		return fmt.Errorf("policy.watch requires the file adapter, got %q", c.Policy.Adapter)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(e.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"200ms\"", field)
	case "telemetry_output":
		return fmt.Sprintf("%s must be 'stdout' or 'file://<absolute-path>'", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'memory', 'stdout' or 'file://<absolute-dir>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
