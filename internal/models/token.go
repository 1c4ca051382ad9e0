package models

import "time"

// RefreshToken is a persisted ledger entry for an opaque refresh token.
// A token is single-use: once Used flips to true it can never be redeemed
// again. Revoked is terminal as well. Rows are never deleted by the service;
// retention is an operational concern.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Used      bool       `db:"used" json:"used"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress string     `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string     `db:"user_agent" json:"user_agent,omitempty"`
}
