package goToken

import (
	"context"
	"time"

	"github.com/MrEthical07/goToken/token"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts may obtain and rotate tokens.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts are refused with [ErrAccountDisabled].
	AccountDisabled
	// AccountLocked accounts are refused with [ErrAccountLocked].
	AccountLocked
	// AccountDeleted accounts are refused with [ErrUserNotFound].
	AccountDeleted
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountLocked:
		return "locked"
	case AccountDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// User is an already-authenticated principal. Primary credential
// verification happens before the engine is involved.
type User struct {
	ID     string
	Roles  []string
	Status AccountStatus
}

// UserProvider resolves token owners. Implementations return an error
// wrapping [ErrUserNotFound] when the id does not resolve.
type UserProvider interface {
	GetUserByID(ctx context.Context, userID string) (User, error)
}

// UserProviderFunc adapts a function to [UserProvider].
type UserProviderFunc func(ctx context.Context, userID string) (User, error)

// GetUserByID calls f.
func (f UserProviderFunc) GetUserByID(ctx context.Context, userID string) (User, error) {
	return f(ctx, userID)
}

// TokenTypeBearer is the only token type the engine issues.
const TokenTypeBearer = "Bearer"

// TokenPair is the result of issuance and rotation. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresIn        int64     `json:"expiresIn"`
	TokenType        string    `json:"tokenType"`
	TokenFamily      string    `json:"tokenFamily"`
	SessionID        string    `json:"sessionId"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// IssueOptions chains a new refresh token onto an existing family. The zero
// value starts a fresh login: a new family and a new session.
type IssueOptions struct {
	TokenFamily     string
	PreviousTokenID string
	SessionID       string
}

// SessionInfo is the device-metadata view of one session. It never carries
// token material.
type SessionInfo struct {
	SessionID    string           `json:"sessionId"`
	TokenFamily  string           `json:"tokenFamily"`
	Device       token.DeviceInfo `json:"device"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastActivity time.Time        `json:"lastActivity"`
	IsActive     bool             `json:"isActive"`
}

// RevokeScope selects what a [RevokeRequest] targets.
type RevokeScope string

const (
	// RevokeScopeToken revokes one refresh token, given raw or by record id.
	RevokeScopeToken RevokeScope = "token"
	// RevokeScopeFamily revokes every token descended from one login.
	RevokeScopeFamily RevokeScope = "family"
	// RevokeScopeAll revokes every token of one user.
	RevokeScopeAll RevokeScope = "all"
)

// RevokeRequest is the input of [Engine.Revoke]. Target is a raw refresh
// token or record id for RevokeScopeToken, a family id for
// RevokeScopeFamily and a user id for RevokeScopeAll.
type RevokeRequest struct {
	Target    string
	Scope     RevokeScope
	RevokedBy string
	Reason    token.RevokeReason
}

// SecurityFlags is the result of [Engine.EvaluateSecurity].
type SecurityFlags struct {
	MultipleIPs        bool
	MultipleDevices    bool
	RapidTokenCreation bool
	DistinctIPs        int
	DistinctDevices    int
	TokensIssued       int
}

// Suspicious reports whether any flag is raised.
func (f SecurityFlags) Suspicious() bool {
	return f.MultipleIPs || f.MultipleDevices || f.RapidTokenCreation
}

// PolicyDecision is returned by a [SecurityPolicy].
type PolicyDecision uint8

const (
	// PolicyAllow lets issuance proceed.
	PolicyAllow PolicyDecision = iota
	// PolicyDeny refuses issuance with [ErrSuspiciousActivity].
	PolicyDeny
)

// SecurityPolicy decides what to do with the heuristics result of an
// issuance. Without a policy the engine only records and reports flags.
type SecurityPolicy func(ctx context.Context, user User, device token.DeviceInfo, flags SecurityFlags) PolicyDecision

// HealthStatus is an on-demand backend health result.
//
// Redis always backs the session registry. The token store is reported
// separately since it may live in Postgres or a custom backend; a store that
// cannot ping itself is reported available.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration

	StoreBackend   string
	StoreAvailable bool
	StoreLatency   time.Duration
}

// Healthy reports whether every backend answered.
func (h HealthStatus) Healthy() bool {
	return h.RedisAvailable && h.StoreAvailable
}
