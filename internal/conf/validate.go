// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError collects every invalid setting found in one pass
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) []string{
		validateDatabaseSettings,
		validateGardenSettings,
		validateCareSettings,
		validateHandleSettings,
		validateWebServerSettings,
		validateTelemetrySettings,
	} {
		ve.Errors = append(ve.Errors, check(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(s *Settings) []string {
	var errs []string
	switch s.Database.Type {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path must not be empty")
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			errs = append(errs, "database.mysql requires host and database")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.type %q is not supported, use sqlite or mysql", s.Database.Type))
	}
	return errs
}

func validateGardenSettings(s *Settings) []string {
	var errs []string
	if s.Garden.RecomputeInterval <= 0 {
		errs = append(errs, "garden.recomputeinterval must be positive")
	}
	if s.Garden.CacheTTL < 0 {
		errs = append(errs, "garden.cachettl must not be negative")
	}
	if s.Garden.OpTimeout <= 0 {
		errs = append(errs, "garden.optimeout must be positive")
	}
	return errs
}

func validateCareSettings(s *Settings) []string {
	var errs []string
	if s.Care.EventBuffer <= 0 {
		errs = append(errs, "care.eventbuffer must be positive")
	}
	if s.Care.AlertRetention < 0 {
		errs = append(errs, "care.alertretention must not be negative")
	}
	return errs
}

func validateHandleSettings(s *Settings) []string {
	var errs []string
	h := s.Handles
	if h.MaxAttempts <= 0 {
		errs = append(errs, "handles.maxattempts must be positive")
	}
	if h.Timeout <= 0 {
		errs = append(errs, "handles.timeout must be positive")
	}
	if h.RetryBackoff < 0 {
		errs = append(errs, "handles.retrybackoff must not be negative")
	}
	if h.MinLength <= 0 || h.MaxLength < h.MinLength {
		errs = append(errs, "handles.minlength and handles.maxlength must form a positive range")
	}
	return errs
}

func validateWebServerSettings(s *Settings) []string {
	var errs []string
	if !s.WebServer.Enabled {
		return nil
	}
	if s.WebServer.Listen == "" {
		errs = append(errs, "webserver.listen must not be empty")
	}
	if s.WebServer.RateLimit <= 0 || s.WebServer.Burst <= 0 {
		errs = append(errs, "webserver.ratelimit and webserver.burst must be positive")
	}
	return errs
}

func validateTelemetrySettings(s *Settings) []string {
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		return []string{"telemetry.dsn is required when telemetry is enabled"}
	}
	return nil
}
