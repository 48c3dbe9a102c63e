// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/patrickascher/dotorm/logger"
)

// Error messages.
var (
	ErrProvider = "query: provider %#v is not supported for connections"
)

// Config of a database connection.
type Config struct {
	// Provider name (postgres, mysql).
	Provider string `json:"provider"`

	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`

	MaxIdleConnections int           `json:"maxIdleConnections"`
	MaxOpenConnections int           `json:"maxOpenConnections"`
	MaxConnLifetime    time.Duration `json:"maxConnLifetime"`

	// PreQuery statements will run once after the connection was established.
	PreQuery []string `json:"preQuery"`
}

// dsn renders the driver specific connection string.
func (c Config) dsn() (driver string, dsn string, err error) {
	switch c.Provider {
	case POSTGRES:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, sslMode), nil
	case MYSQL:
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database), nil
	}
	return "", "", fmt.Errorf(ErrProvider, c.Provider)
}

// Session is the execution abstraction over a pooled connection or a pinned
// transaction connection. Statements are rendered by the Builder and executed here.
type Session interface {
	// Dialect of the underlying connection.
	Dialect() Dialect
	// InTransaction reports whether the session is pinned to a transaction.
	InTransaction() bool

	Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error)
	QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row
	Exec(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error)
}

// Pool wraps a sql.DB with its dialect.
type Pool struct {
	db      *sql.DB
	dialect Dialect
	logger  logger.Manager
}

// Open a database connection pool for the given configuration.
// The dialect of the provider must be registered (import the provider package).
func Open(cfg Config) (*Pool, error) {
	d, err := NewDialect(cfg.Provider)
	if err != nil {
		return nil, err
	}
	driver, dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	if cfg.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	for _, stmt := range cfg.PreQuery {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("query: pre-query %q: %w", stmt, err)
		}
	}

	return &Pool{db: db, dialect: d}, nil
}

// NewPool wraps an existing sql.DB.
// Mainly used for tests with a mocked database.
func NewPool(db *sql.DB, d Dialect) *Pool {
	return &Pool{db: db, dialect: d}
}

// SetLogger enables statement logging with duration on debug level.
func (p *Pool) SetLogger(l logger.Manager) {
	p.logger = l
}

// DB returns the underlying sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Dialect of the pool.
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// Close the underlying pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// sessionKey is the context key of a pinned transaction session.
type sessionKey struct{}

// WithSession pins the given session to the context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the pinned transaction session, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// Session returns the execution session for the given context.
// Inside a Transaction block the pinned transaction session is returned, otherwise
// every call goes through the pool.
func (p *Pool) Session(ctx context.Context) Session {
	if s, ok := SessionFromContext(ctx); ok {
		return s
	}
	return &poolSession{pool: p}
}

// Transaction runs fn inside a database transaction.
// The transaction session is pinned to the context which is passed to fn, every
// query/exec through Pool.Session on that context reuses the pinned connection.
// Nested calls join the outer transaction. On an error or panic of fn the
// transaction is rolled back, otherwise committed.
func (p *Pool) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := SessionFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	err = fn(WithSession(ctx, &txSession{pool: p, tx: tx}))
	if err != nil {
		done = true
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("query: rollback: %v: %w", rbErr, err)
		}
		return err
	}

	done = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// log the statement with its arguments and duration on debug level.
func (p *Pool) log(stmt string, args []interface{}, start time.Time) {
	if p.logger == nil {
		return
	}
	p.logger.WithFields(logger.Fields{"args": args, "duration": time.Since(start)}).Debug(stmt)
}

// poolSession executes every call directly against the pool.
type poolSession struct {
	pool *Pool
}

// Dialect of the session.
func (s *poolSession) Dialect() Dialect {
	return s.pool.dialect
}

// InTransaction is false.
func (s *poolSession) InTransaction() bool {
	return false
}

// Query the pool.
func (s *poolSession) Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	defer s.pool.log(stmt, args, time.Now())
	return s.pool.db.QueryContext(ctx, stmt, args...)
}

// QueryRow of the pool.
func (s *poolSession) QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row {
	defer s.pool.log(stmt, args, time.Now())
	return s.pool.db.QueryRowContext(ctx, stmt, args...)
}

// Exec against the pool.
func (s *poolSession) Exec(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	defer s.pool.log(stmt, args, time.Now())
	return s.pool.db.ExecContext(ctx, stmt, args...)
}

// txSession executes every call on the pinned transaction connection.
type txSession struct {
	pool *Pool
	tx   *sql.Tx
}

// Dialect of the session.
func (s *txSession) Dialect() Dialect {
	return s.pool.dialect
}

// InTransaction is true.
func (s *txSession) InTransaction() bool {
	return true
}

// Query the transaction.
func (s *txSession) Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	defer s.pool.log(stmt, args, time.Now())
	return s.tx.QueryContext(ctx, stmt, args...)
}

// QueryRow of the transaction.
func (s *txSession) QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row {
	defer s.pool.log(stmt, args, time.Now())
	return s.tx.QueryRowContext(ctx, stmt, args...)
}

// Exec against the transaction.
func (s *txSession) Exec(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	defer s.pool.log(stmt, args, time.Now())
	return s.tx.ExecContext(ctx, stmt, args...)
}
