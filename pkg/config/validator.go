package config

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// keyPrefixPattern matches redis key prefixes and channel names such as
// "conductor" or "conductor:executions".
var keyPrefixPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.:-]*[a-zA-Z0-9])?$`)

// RegisterCustomValidators registers the config-specific validation tags.
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("key_prefix", validateKeyPrefix)
}

// validateKeyPrefix accepts empty values; pair with required where needed.
func validateKeyPrefix(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	if len(value) > 128 {
		return false
	}
	return keyPrefixPattern.MatchString(value)
}
