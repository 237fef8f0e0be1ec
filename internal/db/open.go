// Package db opens the statistics database and prepares its schema.
package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSQLitePath is used when the connection string is empty.
const DefaultSQLitePath = "data/stats.db"

// Open connects to the statistics database described by dsn. postgres:// and
// postgresql:// URLs use PostgreSQL; anything else is treated as a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	dialect, errDialect := DialectForDSN(dsn)
	if errDialect != nil {
		return nil, errDialect
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		conn    *gorm.DB
		errOpen error
	)
	switch dialect {
	case DialectPostgres:
		conn, errOpen = gorm.Open(postgres.Open(strings.TrimSpace(dsn)), cfg)
	default:
		if errDir := ensureSQLiteDir(dsn); errDir != nil {
			return nil, errDir
		}
		conn, errOpen = gorm.Open(sqlite.Open(BuildSQLiteDSN(dsn)), cfg)
	}
	if errOpen != nil {
		return nil, fmt.Errorf("db: open %s: %w", dialect, errOpen)
	}

	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: get sql db: %w", errDB)
	}
	if dialect == DialectSQLite {
		// One writer at a time; readers share the pool.
		sqlDB.SetMaxOpenConns(4)
	} else {
		sqlDB.SetMaxOpenConns(16)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	log.WithFields(log.Fields{"dialect": dialect, "target": Redact(dsn)}).Debug("db: connection opened")
	return conn, nil
}

// DialectForDSN classifies a connection string.
func DialectForDSN(dsn string) (string, error) {
	trimmed := strings.TrimSpace(dsn)
	lowered := strings.ToLower(trimmed)
	if trimmed == "" || strings.HasPrefix(lowered, "file:") || !strings.Contains(trimmed, "://") {
		return DialectSQLite, nil
	}
	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return "", fmt.Errorf("db: parse dsn: %w", errParse)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("db: unsupported dsn scheme %q", u.Scheme)
	}
}

// BuildSQLiteDSN constructs a SQLite DSN with default parameters.
func BuildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
	}, "&")
}

// ensureSQLiteDir creates the parent directory of a file-backed database.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimSpace(dsn)
	if path == "" {
		path = DefaultSQLitePath
	}
	if strings.HasPrefix(strings.ToLower(path), "file:") {
		path = path[len("file:"):]
	}
	path, _, _ = strings.Cut(path, "?")
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return fmt.Errorf("db: create sqlite dir: %w", errMkdir)
	}
	return nil
}

// Redact hides the password of a URL-style DSN for logging.
func Redact(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	u, errParse := url.Parse(trimmed)
	if errParse != nil || u.User == nil {
		return trimmed
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
