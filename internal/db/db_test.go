package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
)

func openMemory(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Open(context.Background(), config.Database{Type: "sqlite"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Execute(context.Background(), `CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL UNIQUE, balance REAL)`)
	require.NoError(t, err)
	return c
}

func TestExecute_InsertAndSelect(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()

	res, err := c.Execute(ctx, `INSERT INTO users (username, balance) VALUES (?, ?), (?, ?)`, "alice", 10.5, "bob", 3.0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RowsAffected)
	assert.Nil(t, res.Rows)

	res, err = c.Execute(ctx, `  select username, balance from users order by username`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alice", res.Rows[0]["username"])
	assert.Equal(t, 10.5, res.Rows[0]["balance"])
}

func TestExecute_FailureRollsBack(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()

	_, err := c.Execute(ctx, `INSERT INTO users (username) VALUES ('alice')`)
	require.NoError(t, err)

	_, err = c.Execute(ctx, `INSERT INTO users (username) VALUES ('alice')`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDatabase))

	n, err := c.QueryScalar(ctx, `SELECT COUNT(*) FROM users`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestQueryOneAndScalar(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()

	row, err := c.QueryOne(ctx, `SELECT * FROM users WHERE username = ?`, "nobody")
	require.NoError(t, err)
	assert.Nil(t, row)

	v, err := c.QueryScalar(ctx, `SELECT username FROM users WHERE id = ?`, 42)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = c.Execute(ctx, `INSERT INTO users (username) VALUES (?)`, "carol")
	require.NoError(t, err)

	row, err = c.QueryOne(ctx, `SELECT username FROM users`)
	require.NoError(t, err)
	assert.Equal(t, Row{"username": "carol"}, row)

	v, err = c.QueryScalar(ctx, `SELECT MAX(id) FROM users`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Database{Type: "oracle"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
	assert.ErrorIs(t, err, ErrDatabase)
}

func TestOpen_MySQLDriverRegistered(t *testing.T) {
	// Nothing listens on port 1; the driver is found and the ping fails
	cfg := config.Database{Type: "MySQL", Host: "127.0.0.1", Port: 1, Name: "apitest", ConnectTimeout: 500 * time.Millisecond}
	_, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDatabase)
	assert.NotErrorIs(t, err, ErrUnsupportedDriver)
}

func TestIsQuery(t *testing.T) {
	for q, want := range map[string]bool{
		"SELECT 1":                   true,
		"  with x as (select 1) ...": true,
		"PRAGMA table_info(users)":   true,
		"SHOW TABLES":                true,
		"update users set x = 1":     false,
		"":                           false,
	} {
		assert.Equal(t, want, isQuery(q), q)
	}
}
