package ident

import (
	"strings"
	"testing"

	"github.com/mr-tron/base58"
)

func TestNewUserID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewUserID()
		if err != nil {
			t.Fatalf("NewUserID error: %v", err)
		}
		if !strings.HasPrefix(id, UserPrefix) {
			t.Fatalf("id %q lacks prefix", id)
		}
		if got := len(strings.TrimPrefix(id, UserPrefix)); got != 24 {
			t.Fatalf("id %q body length = %d want 24", id, got)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewTokenID(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID error: %v", err)
	}
	raw, err := base58.Decode(id)
	if err != nil {
		t.Fatalf("token id %q is not base58: %v", id, err)
	}
	if len(raw) != 16 {
		t.Fatalf("decoded length = %d want 16", len(raw))
	}
}
