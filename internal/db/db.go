// Package db is the verification database client used by tests to check that
// API calls left the expected rows behind. It speaks PostgreSQL through the
// pgx stdlib driver, MySQL through go-sql-driver/mysql and SQLite through
// modernc.org/sqlite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
)

var (
	// ErrDatabase wraps every statement or connection failure.
	ErrDatabase = errors.New("database")
	// ErrUnsupportedDriver is returned by Open for an unknown database type.
	ErrUnsupportedDriver = fmt.Errorf("%w: unsupported driver", ErrDatabase)
)

// Row is one result row keyed by column name. TEXT and BYTEA columns
// arrive as string.
type Row map[string]any

// Result is the outcome of Execute. Query statements fill Rows; others fill RowsAffected.
type Result struct {
	Rows         []Row
	RowsAffected int64
}

// Client runs verification statements against one database.
type Client struct {
	db     *sql.DB
	kind   string
	logger *slog.Logger
}

// drivers maps a configured database type to its database/sql driver name.
var drivers = map[string]string{
	"postgres":   "pgx",
	"postgresql": "pgx",
	"mysql":      "mysql",
	"sqlite":     "sqlite",
}

// Open connects to the database described by cfg and pings it.
func Open(ctx context.Context, cfg config.Database, logger *slog.Logger) (*Client, error) {
	kind := strings.ToLower(cfg.Type)
	driver, ok := drivers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: postgres, mysql, sqlite)", ErrUnsupportedDriver, cfg.Type)
	}
	dsn := cfg.ConnString()
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDatabase, kind, err)
	}
	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		conn.SetMaxOpenConns(1)
	}
	c := New(conn, kind, logger)
	if err := c.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("database connected", "type", kind, "database", cfg.Name)
	}
	return c, nil
}

// New wraps an open pool. kind is informational.
func New(conn *sql.DB, kind string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{db: conn, kind: kind, logger: logger}
}

// DB exposes the pool for callers that need direct access.
func (c *Client) DB() *sql.DB { return c.db }

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping %s: %w", ErrDatabase, c.kind, err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrDatabase, err)
	}
	c.logger.Info("database connection closed", "type", c.kind)
	return nil
}

// Execute runs query with positional args. Statements starting with SELECT,
// WITH, SHOW, DESCRIBE, EXPLAIN or PRAGMA return rows; anything else runs in a
// transaction that is committed on success and rolled back on failure.
func (c *Client) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	c.logger.Debug("executing sql", "sql", query, "args", len(args))
	if isQuery(query) {
		rows, err := c.query(ctx, query, args...)
		if err != nil {
			return Result{}, err
		}
		c.logger.Debug("sql query finished", "rows", len(rows))
		return Result{Rows: rows}, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: begin: %w", ErrDatabase, err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Warn("rollback failed", "error", rbErr)
		}
		return Result{}, fmt.Errorf("%w: exec %q: %w", ErrDatabase, query, err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("%w: commit: %w", ErrDatabase, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("%w: rows affected: %w", ErrDatabase, err)
	}
	c.logger.Debug("sql exec finished", "rowsAffected", affected)
	return Result{RowsAffected: affected}, nil
}

// QueryOne returns the first row, or nil when the query matched nothing.
func (c *Client) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// QueryScalar returns the first column of the first row, such as COUNT(*).
// The result is nil when no row matched.
func (c *Client) QueryScalar(ctx context.Context, query string, args ...any) (any, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %w", ErrDatabase, query, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
		}
		return nil, nil
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %w", ErrDatabase, err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrDatabase, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return normalize(vals[0]), nil
}

func (c *Client) query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %w", ErrDatabase, query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %w", ErrDatabase, err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrDatabase, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return out, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func isQuery(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "PRAGMA", "VALUES":
		return true
	}
	return false
}
