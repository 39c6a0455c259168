package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeviceFingerprint derives a stable device fingerprint from the client-reported
// user agent, OS and browser. Fields are NUL-separated so ("ab","c") and
// ("a","bc") do not collide.
func DeviceFingerprint(userAgent, os, browser string) string {
	h := sha256.New()
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(os))
	h.Write([]byte{0})
	h.Write([]byte(browser))
	return hex.EncodeToString(h.Sum(nil))
}
