package models

import "time"

// SessionActivity is a reporting row joining a refresh token with its owner.
type SessionActivity struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Used      bool      `db:"used" json:"used"`
	Revoked   bool      `db:"revoked" json:"revoked"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
}
