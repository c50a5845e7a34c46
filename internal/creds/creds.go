// Package creds carries the opaque credential types exchanged with the OAuth
// collaborator. The core never runs an OAuth flow; backends only hand a tool
// integration's config to the provider and pass stored tokens to agents.
package creds

import "time"

// Status describes the usability of a stored token.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusExpired      Status = "expired"
	StatusExpiringSoon Status = "expiring_soon"
)

// Config identifies a tool integration to the credential provider.
type Config struct {
	AuthorizationEndpoint string   `json:"authorizationEndpoint"`
	TokenEndpoint         string   `json:"tokenEndpoint"`
	ClientID              string   `json:"clientId"`
	Scopes                []string `json:"scopes,omitempty"`
}

// Token is a stored credential returned by the provider.
type Token struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// ExpiryWarning is how close to expiry a token is reported as expiring_soon.
const ExpiryWarning = 5 * time.Minute

// Status classifies the token at the given instant.
func (t Token) Status(now time.Time) Status {
	if t.AccessToken == "" {
		return StatusDisconnected
	}
	if t.ExpiresAt.IsZero() {
		return StatusConnected
	}
	if !now.Before(t.ExpiresAt) {
		return StatusExpired
	}
	if t.ExpiresAt.Sub(now) <= ExpiryWarning {
		return StatusExpiringSoon
	}
	return StatusConnected
}
