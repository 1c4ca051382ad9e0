package models

import "time"

// AuditAction enumerates recorded authentication events.
type AuditAction string

const (
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionLoginFailed    AuditAction = "LOGIN_FAILED"
	AuditActionRefresh        AuditAction = "REFRESH"
	AuditActionRefreshDenied  AuditAction = "REFRESH_DENIED"
	AuditActionLogout         AuditAction = "LOGOUT"
	AuditActionPasswordChange AuditAction = "PASSWORD_CHANGE"
)

// AuditLog stores an authentication audit trail entry. Detail keeps the
// internal rejection code so token-state failures stay distinguishable in
// audit even though the HTTP surface reports them uniformly.
type AuditLog struct {
	ID        string      `db:"id" json:"id"`
	UserID    *int64      `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	Resource  string      `db:"resource" json:"resource"`
	Detail    []byte      `db:"detail" json:"detail,omitempty"`
	IPAddress string      `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string      `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
