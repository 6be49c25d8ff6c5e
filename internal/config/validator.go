package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks the configuration for values the runner cannot work
// with. It returns all problems at once.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field: "log.level", Value: cfg.Log.Level,
			Message: "must be one of debug, info, warn, error",
		})
	}
	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field: "log.format", Value: cfg.Log.Format,
			Message: "must be one of auto, text, json",
		})
	}
	if cfg.Agent.Path == "" {
		errs = append(errs, ValidationError{
			Field: "agent.path", Value: cfg.Agent.Path,
			Message: "agent binary must be set",
		})
	}
	if cfg.Agent.KillGraceSeconds < 0 {
		errs = append(errs, ValidationError{
			Field: "agent.kill_grace_seconds", Value: cfg.Agent.KillGraceSeconds,
			Message: "must not be negative",
		})
	}
	if cfg.Artifacts.Root == "" {
		errs = append(errs, ValidationError{
			Field: "artifacts.root", Value: cfg.Artifacts.Root,
			Message: "artifacts root must be set",
		})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
