package goToken

import (
	"context"

	"github.com/MrEthical07/goToken/internal/security"
	"github.com/MrEthical07/goToken/token"
)

// EvaluateSecurity describes the evaluatesecurity operation and its observable behavior.
//
// EvaluateSecurity scores the user's tokens issued inside the trailing
// window together with device. The result is advisory; the engine only
// refuses issuance when a [SecurityPolicy] says so.
func (e *Engine) EvaluateSecurity(ctx context.Context, userID string, device token.DeviceInfo) (SecurityFlags, error) {
	if e == nil || e.store == nil {
		return SecurityFlags{}, ErrEngineNotReady
	}
	if userID == "" {
		return SecurityFlags{}, ErrUserNotFound
	}

	records, err := e.store.ListByUser(ctx, userID)
	if err != nil {
		return SecurityFlags{}, storeError(err)
	}

	history := make([]security.Observation, 0, len(records))
	for _, r := range records {
		history = append(history, security.Observation{
			IPAddress:   r.Device.IPAddress(),
			Fingerprint: r.Device.Fingerprint(),
			IssuedAt:    r.IssuedAt,
		})
	}
	candidate := security.Observation{
		IPAddress:   device.IPAddress(),
		Fingerprint: device.Fingerprint(),
	}

	res := security.Evaluate(history, candidate, e.now(), e.thresholds())
	return SecurityFlags{
		MultipleIPs:        res.MultipleIPs,
		MultipleDevices:    res.MultipleDevices,
		RapidTokenCreation: res.RapidTokenCreation,
		DistinctIPs:        res.DistinctIPs,
		DistinctDevices:    res.DistinctDevices,
		TokensIssued:       res.TokensIssued,
	}, nil
}

func (e *Engine) thresholds() security.Thresholds {
	return security.Thresholds{
		Window:     e.config.Security.Window,
		MaxIPs:     e.config.Security.MaxIPs,
		MaxDevices: e.config.Security.MaxDevices,
		MaxTokens:  e.config.Security.MaxTokens,
	}
}
