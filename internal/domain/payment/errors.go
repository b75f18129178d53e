package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrUnsupportedGateway is returned for gateway identifiers outside the
// supported set.
var ErrUnsupportedGateway = errors.New("unsupported gateway")

// ConfigurationError indicates missing provider credentials or secrets.
type ConfigurationError struct {
	Gateway Gateway
	Field   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s is not configured", e.Gateway, e.Field)
}

// ValidationError indicates a malformed order.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

// GatewayError wraps a transport or API failure reported by a provider.
// StatusCode is zero when no HTTP response was received.
type GatewayError struct {
	Gateway    Gateway
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider responded %d: %v", e.Gateway, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Gateway, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
