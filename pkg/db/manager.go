package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewDefaultManager creates a MySQL database manager with minimal configuration
func NewDefaultManager(host, database, username, password string) (*Manager, error) {
	return NewManager(NewMySQLConfig(host, database, username, password))
}

// NewManager creates a new database manager instance with full configuration.
// MySQL connections are opened through gorm; SQLite connections use the
// pure-Go modernc driver directly.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dsn, err := config.GetDSN()
	if err != nil {
		return nil, fmt.Errorf("failed to build dsn: %w", err)
	}

	m := &Manager{
		config: config,
		logger: log.With().Str("component", "db").Str("driver", config.DriverName()).Logger(),
	}

	switch config.DriverName() {
	case DriverMySQL:
		gormConfig := &gorm.Config{
			SkipDefaultTransaction: true,
			PrepareStmt:            config.PrepareStmt,
			Logger:                 NewGormLogger(m.logger, config.Logging),
		}
		gdb, err := gorm.Open(mysql.Open(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		m.db = gdb
		m.sqlDB = sqlDB
		m.dialect = MySQL{}
	case DriverSQLite:
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		m.sqlDB = sqlDB
		m.dialect = SQLite{}
	}

	m.sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	m.sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	m.sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	m.sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	m.logger.Debug().Msg("Database connection established")

	return m, nil
}

// DB returns the GORM database instance (nil for sqlite)
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// SqlDB returns the underlying sql.DB instance
func (m *Manager) SqlDB() *sql.DB {
	return m.sqlDB
}

// Dialect returns the SQL dialect of the connected database
func (m *Manager) Dialect() Dialect {
	return m.dialect
}

// Logger returns the manager's component logger
func (m *Manager) Logger() zerolog.Logger {
	return m.logger
}

// Executor wraps inner (the pool or a transaction) with statement logging
// and driver error translation. A nil inner uses the pool.
func (m *Manager) Executor(inner Executor) Executor {
	if inner == nil {
		inner = m.sqlDB
	}
	return &loggingExecutor{
		inner:   inner,
		dialect: m.dialect,
		cfg:     m.config.Logging,
		logger:  m.logger,
	}
}

// BeginTx starts a database transaction on the pool
func (m *Manager) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := m.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// WithQueryTimeout wraps a context with the configured query timeout
func (m *Manager) WithQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.QueryTimeout > 0 {
		return context.WithTimeout(ctx, m.config.QueryTimeout)
	}
	return ctx, func() {}
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.sqlDB != nil {
		return m.sqlDB.Close()
	}
	return nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.sqlDB.PingContext(ctx)
}

// Stats returns database connection statistics
func (m *Manager) Stats() sql.DBStats {
	return m.sqlDB.Stats()
}
