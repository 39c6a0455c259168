package session

import (
	"time"

	"github.com/MrEthical07/goToken/token"
)

// Record is one device session of a user. A session spans every refresh
// token of one family, so its id is stable across rotations.
//
// LastActivity is kept as the Redis sorted-set score and is the eviction key
// when a user reaches the session cap.
type Record struct {
	SessionID    string
	UserID       string
	TokenFamily  string
	Device       token.DeviceInfo
	CreatedAt    time.Time
	LastActivity time.Time
	IsActive     bool
}
