package config

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestMasterKeyBytes(t *testing.T) {
	key := strings.Repeat("ab", 32)
	c := &Config{MasterKey: key}
	b, err := c.MasterKeyBytes()
	if err != nil {
		t.Fatalf("MasterKeyBytes: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("key length = %d, want 32", len(b))
	}
	if hex.EncodeToString(b) != key {
		t.Fatal("round trip mismatch")
	}

	c = &Config{MasterKey: "not-hex"}
	if _, err := c.MasterKeyBytes(); err == nil {
		t.Fatal("invalid hex accepted")
	}
}
