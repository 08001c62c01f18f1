// Package datastore persists owned plants, handles and care alerts with GORM
// on SQLite or MySQL.
package datastore

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/verdant-app/verdant/internal/conf"
	"github.com/verdant-app/verdant/internal/datastore/entities"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
	"github.com/verdant-app/verdant/internal/privacy"
)

const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

// MySQL connection pool settings
const (
	mysqlMaxIdleConns    = 10
	mysqlMaxOpenConns    = 100
	mysqlConnMaxLifetime = time.Hour
)

// DB is an open database with the garden schema migrated
type DB struct {
	gorm    *gorm.DB
	dialect string
	log     logger.Logger
	metrics *metrics.DatastoreMetrics
}

// Open connects to the database selected by settings and migrates the schema
func Open(settings *conf.DatabaseSettings, log logger.Logger, m *metrics.DatastoreMetrics) (*DB, error) {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	log = log.Module("datastore")

	var (
		dialector gorm.Dialector
		target    string
	)
	switch settings.Type {
	case DialectSQLite, "":
		path := settings.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, dbError(err, "open", errors.PriorityCritical, "path", path)
			}
		}
		dialector = sqlite.Open(sqliteDSN(path))
		target = path
	case DialectMySQL:
		dialector = mysql.Open(mysqlDSN(settings))
		target = fmt.Sprintf("%s:%s/%s", settings.MySQL.Host, settings.MySQL.Port, settings.MySQL.Database)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log, settings.SlowQueryThreshold),
		TranslateError: true,
	})
	if err != nil {
		// driver errors can echo the DSN
		return nil, dbError(privacy.WrapError(err), "open", errors.PriorityCritical, "target", target)
	}

	db := &DB{gorm: gdb, dialect: dialectOf(settings.Type), log: log, metrics: m}
	if err := db.configurePool(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("database opened",
		logger.String("dialect", db.dialect),
		logger.String("target", target))
	return db, nil
}

// OpenSQLite opens a SQLite database at path, mostly for tests and tools
func OpenSQLite(path string, log logger.Logger, m *metrics.DatastoreMetrics) (*DB, error) {
	settings := &conf.DatabaseSettings{Type: DialectSQLite}
	settings.SQLite.Path = path
	return Open(settings, log, m)
}

func dialectOf(t string) string {
	if t == DialectMySQL {
		return DialectMySQL
	}
	return DialectSQLite
}

// sqliteDSN enables WAL so readers do not block the writer
func sqliteDSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
}

func mysqlDSN(s *conf.DatabaseSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		s.MySQL.Username, s.MySQL.Password, s.MySQL.Host, s.MySQL.Port, s.MySQL.Database)
}

func (db *DB) configurePool() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return dbError(err, "configure_pool", errors.PriorityHigh)
	}
	if db.dialect == DialectSQLite {
		// one writer at a time; keeps transactions from failing with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)
	return nil
}

func (db *DB) migrate() error {
	start := time.Now()
	err := db.gorm.AutoMigrate(
		&entities.OwnedPlant{},
		&entities.HandleRecord{},
		&entities.CareAlert{},
	)
	if err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical, "dialect", db.dialect)
	}
	db.log.Debug("schema migrated", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Dialect returns sqlite or mysql
func (db *DB) Dialect() string {
	return db.dialect
}

// Gorm exposes the underlying handle
func (db *DB) Gorm() *gorm.DB {
	return db.gorm
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable(err, "ping")
	}
	return nil
}

// CollectStats publishes connection pool figures to metrics
func (db *DB) CollectStats() {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return
	}
	stats := sqlDB.Stats()
	db.metrics.UpdateConnectionMetrics(stats.OpenConnections, stats.Idle)
}

// Close releases the connection pool
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// observe records the outcome of one database operation
func (db *DB) observe(op string, start time.Time, err error) {
	status := metrics.LabelSuccess
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		status = metrics.LabelError
		db.metrics.RecordDbOperationError(op, errorType(err))
	}
	db.metrics.RecordDbOperation(op, status, time.Since(start).Seconds())
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gorm.ErrDuplicatedKey), isDuplicate(err):
		return "duplicate"
	case isConnectionError(err):
		return "connection"
	case isBusy(err):
		return "busy"
	default:
		return "other"
	}
}

// isConnectionError reports errors meaning the database cannot be reached
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "database is closed", "sql: database is closed", "broken pipe", "invalid connection", "unable to open database"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isBusy reports lock errors that clear up when retried
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout")
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate entry")
}

// dbError creates a categorized database error with context pairs
func dbError(err error, operation, priority string, pairs ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	if priority != "" {
		builder = builder.Priority(priority)
	}
	for i := 0; i < len(pairs)-1; i += 2 {
		if key, ok := pairs[i].(string); ok {
			builder = builder.Context(key, pairs[i+1])
		}
	}
	return builder.Build()
}
