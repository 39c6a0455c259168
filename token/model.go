package token

import "time"

// RevokeReason records why a refresh token stopped being usable.
type RevokeReason string

const (
	ReasonUserLogout           RevokeReason = "user_logout"
	ReasonAdminRevoke          RevokeReason = "admin_revoke"
	ReasonSecurityBreach       RevokeReason = "security_breach"
	ReasonTokenRotation        RevokeReason = "token_rotation"
	ReasonAccountLocked        RevokeReason = "account_locked"
	ReasonSuspiciousActivity   RevokeReason = "suspicious_activity"
	ReasonExpired              RevokeReason = "expired"
	ReasonDeviceChange         RevokeReason = "device_change"
	ReasonSessionLimitExceeded RevokeReason = "session_limit_exceeded"
)

// Reasons lists every known reason in a stable order.
func Reasons() []RevokeReason {
	return []RevokeReason{
		ReasonUserLogout,
		ReasonAdminRevoke,
		ReasonSecurityBreach,
		ReasonTokenRotation,
		ReasonAccountLocked,
		ReasonSuspiciousActivity,
		ReasonExpired,
		ReasonDeviceChange,
		ReasonSessionLimitExceeded,
	}
}

// Valid reports whether r is one of the known reasons.
func (r RevokeReason) Valid() bool {
	switch r {
	case ReasonUserLogout,
		ReasonAdminRevoke,
		ReasonSecurityBreach,
		ReasonTokenRotation,
		ReasonAccountLocked,
		ReasonSuspiciousActivity,
		ReasonExpired,
		ReasonDeviceChange,
		ReasonSessionLimitExceeded:
		return true
	default:
		return false
	}
}

// SecurityFlags are the heuristic observations recorded on a record at issuance.
type SecurityFlags struct {
	SuspiciousActivity bool `json:"suspiciousActivity"`
	MultipleDevices    bool `json:"multipleDevices"`
	LocationChange     bool `json:"locationChange"`
}

// Any reports whether at least one flag is raised.
func (f SecurityFlags) Any() bool {
	return f.SuspiciousActivity || f.MultipleDevices || f.LocationChange
}

// Location is an optional coarse geo hint supplied by the caller.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Record is the persisted state of one refresh token. The raw token is never
// stored; TokenHash is the SHA-256 hex digest of it.
//
// Invariants maintained by the transition functions in state.go:
//   - UsageCount <= MaxUsageCount
//   - UsageCount == MaxUsageCount implies !IsActive
//   - IsRevoked implies !IsActive
//
// Version is bumped on every persisted mutation and is the compare-and-swap
// token used by [Store.CompareAndSwap] and [Store.Delete].
type Record struct {
	ID              string        `json:"id"`
	TokenHash       string        `json:"tokenHash"`
	JTI             string        `json:"jti"`
	UserID          string        `json:"userId"`
	TokenFamily     string        `json:"tokenFamily"`
	SessionID       string        `json:"sessionId"`
	PreviousTokenID string        `json:"previousTokenId,omitempty"`
	IssuedAt        time.Time     `json:"issuedAt"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	LastUsedAt      time.Time     `json:"lastUsedAt,omitempty"`
	UsageCount      int           `json:"usageCount"`
	MaxUsageCount   int           `json:"maxUsageCount"`
	IsActive        bool          `json:"isActive"`
	IsRevoked       bool          `json:"isRevoked"`
	RevokedAt       time.Time     `json:"revokedAt,omitempty"`
	RevokedBy       string        `json:"revokedBy,omitempty"`
	RevokedReason   RevokeReason  `json:"revokedReason,omitempty"`
	Device          DeviceInfo    `json:"device"`
	Flags           SecurityFlags `json:"flags"`
	Location        *Location     `json:"location,omitempty"`
	Version         int64         `json:"version"`
}
