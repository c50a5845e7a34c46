package creds

import (
	"testing"
	"time"
)

func TestTokenStatus(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	if got := (Token{}).Status(now); got != StatusDisconnected {
		t.Fatalf("empty token = %s", got)
	}
	if got := (Token{AccessToken: "a"}).Status(now); got != StatusConnected {
		t.Fatalf("no-expiry token = %s", got)
	}
	if got := (Token{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}).Status(now); got != StatusExpired {
		t.Fatalf("expired token = %s", got)
	}
	if got := (Token{AccessToken: "a", ExpiresAt: now.Add(2 * time.Minute)}).Status(now); got != StatusExpiringSoon {
		t.Fatalf("near-expiry token = %s", got)
	}
	if got := (Token{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}).Status(now); got != StatusConnected {
		t.Fatalf("fresh token = %s", got)
	}
}
