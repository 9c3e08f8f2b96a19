// Package check provides the assertions used by API tests: response status and
// content, JSON paths and schemas, database results, and free-form conditions.
// Every failed assertion returns a *Failure that matches ErrAssertion.
package check

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrAssertion is matched by every error returned from this package.
var ErrAssertion = errors.New("assertion failed")

// Failure describes one failed assertion.
type Failure struct {
	Check   string // assertion name, e.g. "status_code"
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Check, f.Message)
}

// Unwrap lets errors.Is match ErrAssertion.
func (f *Failure) Unwrap() error { return ErrAssertion }

// Response is the part of an HTTP response the assertions inspect.
type Response interface {
	Status() int
	Bytes() []byte
}

// Checker runs assertions and logs successes.
type Checker struct {
	logger *slog.Logger
}

// New creates a Checker. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{logger: logger}
}

func (c *Checker) fail(name, format string, args ...any) error {
	return &Failure{Check: name, Message: fmt.Sprintf(format, args...)}
}

func (c *Checker) pass(name string, attrs ...any) {
	c.logger.Info("assertion passed", append([]any{"check", name}, attrs...)...)
}

// StatusCode asserts the response status.
func (c *Checker) StatusCode(resp Response, want int) error {
	if got := resp.Status(); got != want {
		return c.fail("status_code", "want %d, got %d, body: %s", want, got, truncate(resp.Bytes()))
	}
	c.pass("status_code", "status", want)
	return nil
}

// Contains asserts that the raw body contains substr.
func (c *Checker) Contains(resp Response, substr string) error {
	if !bytes.Contains(resp.Bytes(), []byte(substr)) {
		return c.fail("contains", "body does not contain %q, body: %s", substr, truncate(resp.Bytes()))
	}
	c.pass("contains", "substr", substr)
	return nil
}

// NotContains asserts that the raw body does not contain substr.
func (c *Checker) NotContains(resp Response, substr string) error {
	if bytes.Contains(resp.Bytes(), []byte(substr)) {
		return c.fail("not_contains", "body contains %q", substr)
	}
	c.pass("not_contains", "substr", substr)
	return nil
}

// JSONKeyExists asserts that the dotted path resolves in the JSON body.
// Path segments name object keys or, on arrays, zero-based indices
// ("data.items.0.id").
func (c *Checker) JSONKeyExists(resp Response, path string) error {
	doc, err := decode(resp.Bytes())
	if err != nil {
		return c.fail("json_key_exists", "response is not JSON: %v", err)
	}
	v, err := Lookup(doc, path)
	if err != nil {
		return c.fail("json_key_exists", "%v", err)
	}
	c.pass("json_key_exists", "path", path, "value", v)
	return nil
}

// JSONKeyValue asserts that the value at path equals want. Both sides are
// compared in their JSON form, so an int 100 equals the JSON number 100.
func (c *Checker) JSONKeyValue(resp Response, path string, want any) error {
	doc, err := decode(resp.Bytes())
	if err != nil {
		return c.fail("json_key_value", "response is not JSON: %v", err)
	}
	got, err := Lookup(doc, path)
	if err != nil {
		return c.fail("json_key_value", "%v", err)
	}
	wantN, err := normalize(want)
	if err != nil {
		return c.fail("json_key_value", "expected value for %q is not JSON-encodable: %v", path, err)
	}
	if diff := cmp.Diff(wantN, got); diff != "" {
		return c.fail("json_key_value", "value at %q mismatch (-want +got):\n%s", path, diff)
	}
	c.pass("json_key_value", "path", path)
	return nil
}

// JSONSchema validates the JSON body against schema, which may be a JSON
// document as string or []byte, or any value that encodes to one.
func (c *Checker) JSONSchema(resp Response, schema any) error {
	raw, err := schemaBytes(schema)
	if err != nil {
		return c.fail("json_schema", "invalid schema: %v", err)
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return c.fail("json_schema", "invalid schema: %v", err)
	}
	compiler := jsonschema.NewCompiler()
	const id = "response.schema.json"
	if err := compiler.AddResource(id, schemaDoc); err != nil {
		return c.fail("json_schema", "add schema: %v", err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return c.fail("json_schema", "compile schema: %v", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(resp.Bytes()))
	if err != nil {
		return c.fail("json_schema", "response is not JSON: %v", err)
	}
	if err := compiled.Validate(inst); err != nil {
		return c.fail("json_schema", "response does not match schema: %v", err)
	}
	c.pass("json_schema")
	return nil
}

// DBEqual asserts that a database result equals want after JSON normalization.
func (c *Checker) DBEqual(got, want any, msg string) error {
	gotN, err := normalize(got)
	if err != nil {
		return c.fail("db_equal", "%s: result is not JSON-encodable: %v", msg, err)
	}
	wantN, err := normalize(want)
	if err != nil {
		return c.fail("db_equal", "%s: expected value is not JSON-encodable: %v", msg, err)
	}
	if diff := cmp.Diff(wantN, gotN); diff != "" {
		return c.fail("db_equal", "%s (-want +got):\n%s", msg, diff)
	}
	c.pass("db_equal", "msg", msg)
	return nil
}

// DBContains asserts that a database result contains want. On a list of rows
// an element matches when it equals want or, for objects, holds every key of
// want with an equal value. On a single row want names a column or is a
// subset. On a string want must be a substring.
func (c *Checker) DBContains(got, want any, msg string) error {
	if s, ok := got.(string); ok {
		sub := fmt.Sprint(want)
		if !strings.Contains(s, sub) {
			return c.fail("db_contains", "%s: %q does not contain %q", msg, s, sub)
		}
		c.pass("db_contains", "msg", msg)
		return nil
	}
	gotN, err := normalize(got)
	if err != nil {
		return c.fail("db_contains", "%s: result is not JSON-encodable: %v", msg, err)
	}
	wantN, err := normalize(want)
	if err != nil {
		return c.fail("db_contains", "%s: expected value is not JSON-encodable: %v", msg, err)
	}
	if !contains(gotN, wantN) {
		return c.fail("db_contains", "%s: %v does not contain %v", msg, gotN, wantN)
	}
	c.pass("db_contains", "msg", msg)
	return nil
}

// Custom asserts an arbitrary condition; msg is reported on failure.
func (c *Checker) Custom(cond bool, msg string) error {
	if !cond {
		return c.fail("custom", "%s", msg)
	}
	c.pass("custom", "msg", msg)
	return nil
}

// Require stops the test when err is non-nil.
func Require(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, el := range h {
			if cmp.Equal(el, needle) || subset(el, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		if key, ok := needle.(string); ok {
			_, found := h[key]
			return found
		}
		return subset(h, needle)
	default:
		return cmp.Equal(haystack, needle)
	}
}

// subset reports whether every key of needle is present in obj with an equal value.
func subset(obj, needle any) bool {
	o, ok := obj.(map[string]any)
	if !ok {
		return false
	}
	n, ok := needle.(map[string]any)
	if !ok || len(n) == 0 {
		return false
	}
	for k, v := range n {
		if ov, found := o[k]; !found || !cmp.Equal(ov, v) {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path in a decoded JSON document.
func Lookup(doc any, path string) (any, error) {
	if path == "" {
		return doc, nil
	}
	cur := doc
	for i, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found at %q", seg, prefix(path, i))
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index %q out of range at %q (len %d)", seg, prefix(path, i), len(node))
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", cur, prefix(path, i))
		}
	}
	return cur, nil
}

func prefix(path string, n int) string {
	segs := strings.Split(path, ".")
	if n == 0 {
		return "$"
	}
	return strings.Join(segs[:n], ".")
}

func decode(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// normalize maps v to the shape encoding/json produces when decoding into any.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func schemaBytes(schema any) ([]byte, error) {
	switch s := schema.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	default:
		return json.Marshal(s)
	}
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
