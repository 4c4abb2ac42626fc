package campaigns

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/discador/internal/dialer"
)

// ValidationError is an invalid operator input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Input is a create or update request from the console
type Input struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	CLINumber            string `json:"cli_number"`
	MaxConcurrentCalls   int    `json:"max_concurrent_calls"`
	MaxAttempts          int    `json:"max_attempts"`
	RetryIntervalSeconds int    `json:"retry_interval_seconds"`
}

// Validate checks the input and returns the first problem found
func (in *Input) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.CLINumber = strings.TrimSpace(in.CLINumber)

	if in.Name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if in.MaxConcurrentCalls < 1 {
		return &ValidationError{Field: "max_concurrent_calls", Message: "must be at least 1"}
	}
	if in.MaxAttempts < 1 {
		return &ValidationError{Field: "max_attempts", Message: "must be at least 1"}
	}
	if in.RetryIntervalSeconds < 0 {
		return &ValidationError{Field: "retry_interval_seconds", Message: "must not be negative"}
	}
	if in.CLINumber != "" && !ValidCLI(in.CLINumber) {
		return &ValidationError{Field: "cli_number", Message: "must contain digits only, with an optional leading +"}
	}
	return nil
}

// ValidCLI reports whether s is digits with an optional leading +
func ValidCLI(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ToRequest converts the input to the backend's native body
func (in Input) ToRequest() *dialer.CampaignRequest {
	return &dialer.CampaignRequest{
		Nombre:              in.Name,
		Descripcion:         in.Description,
		CLI:                 in.CLINumber,
		LlamadasSimultaneas: in.MaxConcurrentCalls,
		IntentosMaximos:     in.MaxAttempts,
		IntervaloReintento:  in.RetryIntervalSeconds,
	}
}
