package goToken

import (
	"context"

	"github.com/MrEthical07/goToken/token"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine records
// it on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// DeviceFromContext builds a validated device snapshot from the IP and user
// agent attached to ctx. The fingerprint is derived from the user agent.
func DeviceFromContext(ctx context.Context) (token.DeviceInfo, error) {
	return token.NewDeviceInfo(token.DeviceInput{
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
