package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var validate = validator.New()

// Validate checks the configuration against its struct-tag constraints and
// the cross-field rules that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("validation failed for: %s", strings.Join(fields, ", "))
		}
		return err
	}

	lc := cfg.Database.Lifecycle
	if lc.AcquirePerSecond > 0 && lc.AcquireBurst == 0 {
		return fmt.Errorf("database.lifecycle.acquire_burst must be set when acquire_per_second is enabled")
	}

	if cfg.Database.MaxIdleConns > cfg.Database.MaxConns {
		return fmt.Errorf("database.max_idle_conns must not exceed database.max_conns")
	}

	return nil
}
