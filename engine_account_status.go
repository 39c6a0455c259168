package goToken

import (
	"context"
	"errors"
	"fmt"
)

// checkAccountStatus maps a non-active account onto its error.
func checkAccountStatus(user User) error {
	if user.ID == "" {
		return ErrUserNotFound
	}
	switch user.Status {
	case AccountActive:
		return nil
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountLocked:
		return ErrAccountLocked
	default:
		return ErrUserNotFound
	}
}

// resolveActiveUser loads the owner of a token and refuses accounts that
// may no longer hold tokens.
func (e *Engine) resolveActiveUser(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrUserNotFound
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("%w: user provider: %v", ErrStoreUnavailable, err)
	}
	if user.ID == "" {
		user.ID = userID
	}
	if user.ID != userID {
		return User{}, ErrUserNotFound
	}
	if err := checkAccountStatus(user); err != nil {
		return User{}, err
	}
	return user, nil
}

// userExists backs orphan detection in the sweeper. Deleted accounts count
// as gone; disabled and locked ones keep their records.
func (e *Engine) userExists(ctx context.Context, userID string) (bool, error) {
	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.Status != AccountDeleted, nil
}
