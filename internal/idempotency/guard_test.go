package idempotency

import (
	"testing"
	"time"

	"github.com/nrgchamp/trending/internal/model"
)

func TestCheckFlagsDuplicateWithinTTL(t *testing.T) {
	g, err := New(Config{TTL: time.Minute, MaxKeys: 1000})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	defer g.Close()

	bucket := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if v := g.Check("v1", "sess-1", bucket); v != Fresh {
		t.Fatalf("first check = %v, want Fresh", v)
	}
	if v := g.Check("v1", "sess-1", bucket); v != Duplicate {
		t.Fatalf("second check = %v, want Duplicate", v)
	}
}

func TestCheckBypassesEmptySession(t *testing.T) {
	g, err := New(Config{TTL: time.Minute, MaxKeys: 1000})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	defer g.Close()

	bucket := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if v := g.Check("v1", "", bucket); v != Fresh {
		t.Fatalf("first check = %v, want Fresh", v)
	}
	if v := g.Check("v1", "", bucket); v != Fresh {
		t.Fatalf("second check with empty session = %v, want Fresh (bypassed)", v)
	}
}

func TestCheckDistinguishesBuckets(t *testing.T) {
	g, err := New(Config{TTL: time.Minute, MaxKeys: 1000})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	defer g.Close()

	b1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b2 := b1.Add(time.Minute)
	if v := g.Check("v1", "sess-1", b1); v != Fresh {
		t.Fatalf("bucket1 check = %v, want Fresh", v)
	}
	if v := g.Check("v1", "sess-1", b2); v != Fresh {
		t.Fatalf("bucket2 check = %v, want Fresh (distinct bucket)", v)
	}
}
