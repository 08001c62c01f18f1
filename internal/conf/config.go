// config.go: settings struct and loading for the verdant garden engine
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/secrets"
)

// DatabaseSettings selects and configures the persistent store
type DatabaseSettings struct {
	Type   string // sqlite or mysql
	SQLite struct {
		Path string // path to sqlite database file
	}
	MySQL struct {
		Username     string
		Password     string // may reference ${ENV} variables
		PasswordFile string // read the password from this file instead
		Host         string
		Port         string
		Database     string
	}
	SlowQueryThreshold time.Duration // queries slower than this are logged at warn
}

// GardenSettings configures owned plant stores
type GardenSettings struct {
	RecomputeInterval time.Duration // how often health is re-derived without store changes
	CacheTTL          time.Duration // lifetime of the offline cached collection
	OpTimeout         time.Duration // bound on every backend call
}

// CareSettings configures transition detection and delivery
type CareSettings struct {
	EventBuffer  int  // per-consumer event queue capacity, oldest dropped on overflow
	LogEvents    bool // log every transition event
	RecordAlerts bool // persist transition events as alert history
	// AlertRetention is how long recorded alerts are kept; zero keeps them forever
	AlertRetention time.Duration
}

// HandleSettings configures the handle registry
type HandleSettings struct {
	MaxAttempts  int           // transaction attempts before contention is surfaced
	Timeout      time.Duration // per-attempt bound on backing store calls
	RetryBackoff time.Duration // base delay between attempts, grows linearly
	MinLength    int
	MaxLength    int
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Enabled   bool
	Listen    string  // listen address, e.g. ":8080"
	RateLimit float64 // requests per second per client on handle lookup routes
	Burst     int
}

// TelemetrySettings configures error reporting
type TelemetrySettings struct {
	Enabled     bool
	DSN         string // may reference ${ENV} variables
	DSNFile     string // read the DSN from this file instead
	Environment string
}

// Settings holds the full engine configuration
type Settings struct {
	Debug bool

	Version string `yaml:"-"`

	// Warnings found while loading that do not stop startup
	Warnings []string `yaml:"-" mapstructure:"-"`

	Logging   logger.LoggingConfig
	Database  DatabaseSettings
	Garden    GardenSettings
	Care      CareSettings
	Handles   HandleSettings
	WebServer WebServerSettings
	Telemetry TelemetrySettings
}

const envPrefix = "VERDANT"

// Load reads the configuration file, environment and bound flags from the
// global viper instance and validates the result.
func Load() (*Settings, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads settings from a specific viper instance
func LoadFrom(v *viper.Viper) (*Settings, error) {
	if err := initViper(v); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// resolveSecrets replaces credential settings with their resolved values
func resolveSecrets(s *Settings) error {
	for _, c := range []struct {
		name  string
		file  string
		value *string
	}{
		{"database.mysql.password", s.Database.MySQL.PasswordFile, &s.Database.MySQL.Password},
		{"telemetry.dsn", s.Telemetry.DSNFile, &s.Telemetry.DSN},
	} {
		secret, warning, err := secrets.Resolve(c.file, *c.value)
		if err != nil {
			return fmt.Errorf("error resolving %s: %w", c.name, err)
		}
		if warning != "" {
			s.Warnings = append(s.Warnings, warning)
		}
		*c.value = secret
	}
	return nil
}

// initViper applies defaults, environment binding and reads config.yaml if present.
// A missing config file is not an error; defaults apply.
func initViper(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if v.ConfigFileUsed() == "" {
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultConfig(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
