// Package jwt signs and verifies the two token types: short-lived access
// tokens (HS256 or Ed25519, optional kid rotation) and refresh tokens (HS256
// with a dedicated secret). Parsing is stateless; callers map the returned
// sentinels onto their own error model.
package jwt
