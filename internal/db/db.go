// Package db opens the relational stores shared by the chat and identity
// packages and classifies the driver errors they surface.
package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Options describes one store connection.
type Options struct {
	Driver       string
	DSN          string
	BusyTimeout  time.Duration
	MaxOpenConns int
	Logger       *slog.Logger
}

// Connect opens a gorm handle. SQLite connections run in WAL mode with a
// busy timeout so concurrent readers and writers wait instead of failing.
func Connect(opts Options) (*gorm.DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 30 * time.Second
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite:
		dsn, err := sqliteDSN(opts.DSN, opts.BusyTimeout)
		if err != nil {
			return nil, err
		}
		dialector = gormsqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(slogWriter{opts.Logger}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return gdb, nil
}

// Close releases the pool behind gdb.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string, busyTimeout time.Duration) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}
	file := path
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	file = strings.TrimPrefix(file, "file:")
	if file != "" && !strings.Contains(file, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
		// read-then-write transactions take the write lock up front
		"_txlock=immediate",
	}
	return path + sep + strings.Join(pragmas, "&"), nil
}

type slogWriter struct{ l *slog.Logger }

func (w slogWriter) Printf(format string, args ...any) {
	w.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}
