package security

import "time"

// Thresholds are exclusive upper bounds: a count strictly greater than the
// threshold raises the flag.
type Thresholds struct {
	Window     time.Duration
	MaxIPs     int
	MaxDevices int
	MaxTokens  int
}

// DefaultThresholds returns a 24h window with 3 IPs, 2 devices and 10 tokens.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:     24 * time.Hour,
		MaxIPs:     3,
		MaxDevices: 2,
		MaxTokens:  10,
	}
}

// Observation is one issued token as seen by the heuristics.
type Observation struct {
	IPAddress   string
	Fingerprint string
	IssuedAt    time.Time
}

// Result carries the counts and the flags derived from them.
type Result struct {
	DistinctIPs        int
	DistinctDevices    int
	TokensIssued       int
	MultipleIPs        bool
	MultipleDevices    bool
	RapidTokenCreation bool
}

// Suspicious reports whether any flag is raised.
func (r Result) Suspicious() bool {
	return r.MultipleIPs || r.MultipleDevices || r.RapidTokenCreation
}

// Evaluate scores history inside the trailing window ending at now. The
// candidate device, when non-empty, counts toward the distinct IP and
// fingerprint sets but not toward TokensIssued.
func Evaluate(history []Observation, candidate Observation, now time.Time, th Thresholds) Result {
	if th.Window <= 0 {
		th.Window = DefaultThresholds().Window
	}
	since := now.Add(-th.Window)

	ips := make(map[string]struct{})
	devices := make(map[string]struct{})
	tokens := 0

	for _, obs := range history {
		if obs.IssuedAt.Before(since) {
			continue
		}
		tokens++
		if obs.IPAddress != "" {
			ips[obs.IPAddress] = struct{}{}
		}
		if obs.Fingerprint != "" {
			devices[obs.Fingerprint] = struct{}{}
		}
	}
	if candidate.IPAddress != "" {
		ips[candidate.IPAddress] = struct{}{}
	}
	if candidate.Fingerprint != "" {
		devices[candidate.Fingerprint] = struct{}{}
	}

	return Result{
		DistinctIPs:        len(ips),
		DistinctDevices:    len(devices),
		TokensIssued:       tokens,
		MultipleIPs:        len(ips) > th.MaxIPs,
		MultipleDevices:    len(devices) > th.MaxDevices,
		RapidTokenCreation: tokens > th.MaxTokens,
	}
}
