package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
)

// queryTimeout bounds every statement issued by the postgres store.
const queryTimeout = 10 * time.Second

// Postgres implements Store using PostgreSQL as the backend.
type Postgres struct {
	db *sql.DB // Database connection pool
}

// NewPostgres creates a Store backed by PostgreSQL through the pgx stdlib driver.
// Tests the database connection before returning the store.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return NewPostgresFromDB(db), nil
}

// NewPostgresFromDB wraps an already opened pool.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB returns the underlying *sql.DB connection pool.
// This method is primarily used by migration functions that need direct database access.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Ping reports whether the database is reachable. Used by the readiness check.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// CreateUser inserts a user. Returns ErrConflict if the username is taken.
func (p *Postgres) CreateUser(ctx context.Context, user model.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `INSERT INTO users (id, username, password_hash, email, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (username) DO NOTHING`
	res, err := p.db.ExecContext(ctx, q, user.ID, user.Username, user.PasswordHash, user.Email, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	// Zero rows means the ON CONFLICT branch fired
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrConflict
	}
	return nil
}

// GetUser retrieves a user by username. Returns ErrNotFound if none exists.
func (p *Postgres) GetUser(ctx context.Context, username string) (model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `SELECT id, username, password_hash, email, created_at FROM users WHERE username = $1`
	var user model.User
	err := p.db.QueryRowContext(ctx, q, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// Remember records a nonce atomically. An existing row is only overwritten
// once it has expired at now, so a live duplicate affects zero rows and yields ErrConflict.
func (p *Postgres) Remember(ctx context.Context, nonce model.SeenNonce, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// The conditional upsert makes check-and-insert a single statement, so
	// concurrent submissions of one nonce cannot both succeed
	const q = `INSERT INTO seen_nonces (value, expires_at) VALUES ($1, $2)
        ON CONFLICT (value) DO UPDATE SET expires_at = EXCLUDED.expires_at
        WHERE seen_nonces.expires_at <= $3`
	res, err := p.db.ExecContext(ctx, q, nonce.Value, nonce.ExpiresAt.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("remember nonce: %w", err)
	}
	// Zero rows means a live row blocked the update
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrConflict
	}
	return nil
}

// CleanupExpired removes expired nonces from PostgreSQL storage.
// This periodic cleanup prevents the table from growing without bound.
func (p *Postgres) CleanupExpired(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `DELETE FROM seen_nonces WHERE expires_at <= $1`
	if _, err := p.db.ExecContext(ctx, q, now.UTC()); err != nil {
		return fmt.Errorf("cleanup nonces: %w", err)
	}
	return nil
}
