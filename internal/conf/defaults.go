// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every configuration key
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/verdant.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "verdant.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.database", "verdant")
	v.SetDefault("database.mysql.username", "verdant")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.passwordfile", "")
	v.SetDefault("database.slowquerythreshold", 200*time.Millisecond)

	v.SetDefault("garden.recomputeinterval", 15*time.Minute)
	v.SetDefault("garden.cachettl", 24*time.Hour)
	v.SetDefault("garden.optimeout", 10*time.Second)

	v.SetDefault("care.eventbuffer", 64)
	v.SetDefault("care.logevents", true)
	v.SetDefault("care.recordalerts", true)
	v.SetDefault("care.alertretention", 30*24*time.Hour)

	v.SetDefault("handles.maxattempts", 5)
	v.SetDefault("handles.timeout", 5*time.Second)
	v.SetDefault("handles.retrybackoff", 25*time.Millisecond)
	v.SetDefault("handles.minlength", 3)
	v.SetDefault("handles.maxlength", 30)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.ratelimit", 10.0)
	v.SetDefault("webserver.burst", 20)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.dsnfile", "")
	v.SetDefault("telemetry.environment", "production")
}
