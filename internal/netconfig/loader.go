package netconfig

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading and validation.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// LoadFile loads and validates configuration from a YAML file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netconfig: read %s: %w", path, err)
	}
	return l.Load(data)
}

// Load parses and validates configuration from YAML bytes, starting from
// Defaults().
func (l *Loader) Load(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("netconfig: parse config: %w", err)
	}
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus semantic checks not
// expressible as tags.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("netconfig: validation failed: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("netconfig: validation failed: %w", err)
	}
	return l.validateSemantics(cfg)
}

// validateSemantics checks rules that span multiple fields: exactly one
// of the validator's endpoint discovery modes may be configured.
func (l *Loader) validateSemantics(cfg *Config) error {
	hasStun := len(cfg.Validator.Endpoints.TrustedStunServers) > 0
	hasAddrs := len(cfg.Validator.Endpoints.PublicAddrs) > 0
	if hasStun && hasAddrs {
		return fmt.Errorf("netconfig: validator.endpoints must configure either trusted_stun_servers or public_addrs, not both")
	}
	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	var result string
	for i, err := range errs {
		if i > 0 {
			result += "; "
		}
		result += fmt.Sprintf("field %q failed on %q validation", err.Field(), err.Tag())
	}
	return result
}
