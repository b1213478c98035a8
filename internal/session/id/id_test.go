package id

import (
	"strings"
	"testing"
)

func TestGenerate_Length(t *testing.T) {
	got := Generate()
	if len(got) != 43 {
		t.Errorf("Generate() length = %d, want 43", len(got))
	}
}

func TestGenerate_URLSafe(t *testing.T) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	got := Generate()
	for _, r := range got {
		if !strings.ContainsRune(alphabet, r) {
			t.Errorf("Generate() contains non-URL-safe character %q", r)
		}
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
