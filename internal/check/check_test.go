package check

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/db"
)

type fakeResponse struct {
	status int
	body   string
}

func (r fakeResponse) Status() int   { return r.status }
func (r fakeResponse) Bytes() []byte { return []byte(r.body) }

func newChecker() *Checker {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const userBody = `{"code":0,"data":{"user":{"id":7,"name":"alice","tags":["a","b"]},"items":[{"id":"x1"},{"id":"x2"}]}}`

func TestStatusAndContains(t *testing.T) {
	c := newChecker()
	resp := fakeResponse{status: 201, body: userBody}

	assert.NoError(t, c.StatusCode(resp, 201))
	err := c.StatusCode(resp, 200)
	assert.ErrorIs(t, err, ErrAssertion)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "status_code", f.Check)
	assert.Contains(t, f.Message, "want 200, got 201")

	assert.NoError(t, c.Contains(resp, `"alice"`))
	assert.ErrorIs(t, c.Contains(resp, "bob"), ErrAssertion)
	assert.NoError(t, c.NotContains(resp, "bob"))
	assert.ErrorIs(t, c.NotContains(resp, "alice"), ErrAssertion)
}

func TestJSONKeyExists(t *testing.T) {
	c := newChecker()
	resp := fakeResponse{status: 200, body: userBody}

	for _, path := range []string{"code", "data.user.id", "data.user.tags.1", "data.items.0.id"} {
		assert.NoError(t, c.JSONKeyExists(resp, path), path)
	}
	for _, path := range []string{"data.user.email", "data.items.5", "data.items.x", "code.inner"} {
		assert.ErrorIs(t, c.JSONKeyExists(resp, path), ErrAssertion, path)
	}
	assert.ErrorIs(t, c.JSONKeyExists(fakeResponse{body: "<html>"}, "code"), ErrAssertion)
}

func TestJSONKeyValue(t *testing.T) {
	c := newChecker()
	resp := fakeResponse{status: 200, body: userBody}

	assert.NoError(t, c.JSONKeyValue(resp, "data.user.id", 7))
	assert.NoError(t, c.JSONKeyValue(resp, "data.user.name", "alice"))
	assert.NoError(t, c.JSONKeyValue(resp, "data.user.tags", []string{"a", "b"}))
	assert.NoError(t, c.JSONKeyValue(resp, "data.items.1", map[string]any{"id": "x2"}))

	err := c.JSONKeyValue(resp, "data.user.name", "bob")
	assert.ErrorIs(t, err, ErrAssertion)
	assert.Contains(t, err.Error(), "-want +got")
}

func TestJSONSchema(t *testing.T) {
	c := newChecker()
	schema := map[string]any{
		"type":     "object",
		"required": []string{"code", "data"},
		"properties": map[string]any{
			"code": map[string]any{"type": "integer"},
		},
	}
	assert.NoError(t, c.JSONSchema(fakeResponse{body: userBody}, schema))
	assert.ErrorIs(t, c.JSONSchema(fakeResponse{body: `{"code":"zero"}`}, schema), ErrAssertion)
	assert.ErrorIs(t, c.JSONSchema(fakeResponse{body: `not json`}, schema), ErrAssertion)
	assert.ErrorIs(t, c.JSONSchema(fakeResponse{body: userBody}, `{"type": 12}`), ErrAssertion)
}

func TestDBAssertions(t *testing.T) {
	ctx := context.Background()
	client, err := db.Open(ctx, config.Database{Type: "sqlite"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Execute(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT)`)
	require.NoError(t, err)
	_, err = client.Execute(ctx, `INSERT INTO users (username) VALUES ('alice'), ('bob')`)
	require.NoError(t, err)

	c := newChecker()

	count, err := client.QueryScalar(ctx, `SELECT COUNT(*) FROM users`)
	require.NoError(t, err)
	assert.NoError(t, c.DBEqual(count, 2, "user count"))
	assert.ErrorIs(t, c.DBEqual(count, 3, "user count"), ErrAssertion)

	res, err := client.Execute(ctx, `SELECT id, username FROM users ORDER BY id`)
	require.NoError(t, err)
	assert.NoError(t, c.DBContains(res.Rows, map[string]any{"username": "bob"}, "bob exists"))
	assert.NoError(t, c.DBContains(res.Rows, db.Row{"id": 1, "username": "alice"}, "alice row"))
	assert.ErrorIs(t, c.DBContains(res.Rows, map[string]any{"username": "carol"}, "carol"), ErrAssertion)

	row, err := client.QueryOne(ctx, `SELECT id, username FROM users WHERE id = ?`, 1)
	require.NoError(t, err)
	assert.NoError(t, c.DBContains(row, "username", "column present"))
	assert.NoError(t, c.DBEqual(row, map[string]any{"id": 1, "username": "alice"}, "row"))

	assert.NoError(t, c.DBContains("alice,bob", "bob", "substring"))
	assert.NoError(t, c.DBContains([]int{1, 2, 3}, 2, "element"))
}

func TestCustomAndRequire(t *testing.T) {
	c := newChecker()
	assert.NoError(t, c.Custom(true, "always"))
	err := c.Custom(false, "balance must be positive")
	assert.ErrorIs(t, err, ErrAssertion)
	assert.Equal(t, "custom: balance must be positive", err.Error())

	Require(t, nil)
}
