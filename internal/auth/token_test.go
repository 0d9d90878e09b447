package auth

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := GenerateToken(SessionTokenPrefix)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if !strings.HasPrefix(tok, SessionTokenPrefix) {
			t.Fatalf("token %q missing prefix %q", tok, SessionTokenPrefix)
		}
		if len(tok) != len(SessionTokenPrefix)+64 {
			t.Fatalf("token length = %d, want %d", len(tok), len(SessionTokenPrefix)+64)
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("duplicate token generated")
		}
		seen[tok] = struct{}{}
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("wks-abc")
	if a != HashToken("wks-abc") {
		t.Fatal("hash not deterministic")
	}
	if a == HashToken("wks-abd") {
		t.Fatal("distinct tokens hashed equal")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
	if strings.Contains(a, "wks-") {
		t.Fatal("hash leaks token material")
	}
}
