package goToken

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goToken/token"
)

var (
	// ErrTokenMalformed is returned for tokens that fail decoding, signature or claim checks.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned once a token is past its expiry. Expiry wins over every other state.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenNotFound is returned when a refresh token has no stored record.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExhausted is returned when a refresh token has used up its allowed uses.
	ErrTokenExhausted = errors.New("token exhausted")
	// ErrTokenRevoked is returned for revoked refresh tokens and for tokens of a revoked family.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenReuseDetected is returned when a consumed refresh token is presented again.
	// The whole family is revoked before the error is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrRotationConflict is returned to the losers of a concurrent rotation of one token.
	ErrRotationConflict = errors.New("refresh token rotation conflict")
	// ErrSessionNotFound is returned when a session id does not belong to the user.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenTypeMismatch is returned when a refresh token is presented as an access token or vice versa.
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	// ErrUserNotFound is returned when the token owner no longer resolves.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountDisabled is returned for disabled accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned for locked accounts.
	ErrAccountLocked = errors.New("account locked")
	// ErrRefreshRateLimited is returned when one family is refreshed too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSuspiciousActivity is returned when the installed security policy denies issuance.
	ErrSuspiciousActivity = errors.New("suspicious activity")
	// ErrInvalidRevokeScope is returned for an unknown revoke scope or an empty target.
	ErrInvalidRevokeScope = errors.New("invalid revoke scope")
	// ErrInvalidDevice is returned when device metadata fails validation.
	ErrInvalidDevice = token.ErrInvalidDevice
	// ErrStoreUnavailable wraps token store and session registry failures.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is returned by a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ReuseError reports a replayed refresh token. It unwraps to
// [ErrTokenReuseDetected].
type ReuseError struct {
	TokenFamily string
	Revoked     int
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s: family %s, %d tokens revoked", ErrTokenReuseDetected.Error(), e.TokenFamily, e.Revoked)
}

func (e *ReuseError) Unwrap() error {
	return ErrTokenReuseDetected
}

// storeError maps token and session backend errors onto the public model.
// Sentinel errors that already belong to the public model pass through.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrNotFound):
		return ErrTokenNotFound
	case errors.Is(err, token.ErrConflict):
		return ErrRotationConflict
	case errors.Is(err, token.ErrFamilyRevoked):
		return ErrTokenRevoked
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrRevoked):
		return ErrTokenRevoked
	case errors.Is(err, token.ErrExhausted):
		return ErrTokenExhausted
	case errors.Is(err, token.ErrInvalidDevice):
		return err
	case errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
