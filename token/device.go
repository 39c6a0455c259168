package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/MrEthical07/goToken/internal"
)

// ErrInvalidDevice is returned by [NewDeviceInfo] when the input fails validation.
var ErrInvalidDevice = errors.New("invalid device info")

// DeviceType is the closed set of device classes a client may report.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

const (
	maxUserAgentLen   = 512
	maxShortFieldLen  = 64
	maxFingerprintLen = 128
)

// DeviceInput is the raw, untrusted device description handed in by the
// request-parsing layer.
type DeviceInput struct {
	IPAddress   string
	UserAgent   string
	DeviceType  string
	Browser     string
	OS          string
	Fingerprint string
}

// DeviceInfo is a validated device snapshot. Its fields are only reachable
// through accessors so a value cannot be altered after [NewDeviceInfo].
type DeviceInfo struct {
	ipAddress   string
	userAgent   string
	deviceType  DeviceType
	browser     string
	os          string
	fingerprint string
}

// NewDeviceInfo validates in and returns the immutable snapshot. An empty
// device type becomes [DeviceUnknown]; an empty fingerprint is derived from the
// user agent, OS and browser.
func NewDeviceInfo(in DeviceInput) (DeviceInfo, error) {
	ip := strings.TrimSpace(in.IPAddress)
	if ip != "" {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return DeviceInfo{}, fmt.Errorf("%w: ip address %q", ErrInvalidDevice, ip)
		}
		ip = addr.Unmap().String()
	}

	ua := strings.TrimSpace(in.UserAgent)
	if len(ua) > maxUserAgentLen {
		return DeviceInfo{}, fmt.Errorf("%w: user agent too long", ErrInvalidDevice)
	}

	browser := strings.TrimSpace(in.Browser)
	osName := strings.TrimSpace(in.OS)
	if len(browser) > maxShortFieldLen || len(osName) > maxShortFieldLen {
		return DeviceInfo{}, fmt.Errorf("%w: browser or os too long", ErrInvalidDevice)
	}

	dt := DeviceType(strings.ToLower(strings.TrimSpace(in.DeviceType)))
	switch dt {
	case "":
		dt = DeviceUnknown
	case DeviceDesktop, DeviceMobile, DeviceTablet, DeviceUnknown:
	default:
		return DeviceInfo{}, fmt.Errorf("%w: device type %q", ErrInvalidDevice, in.DeviceType)
	}

	fp := strings.TrimSpace(in.Fingerprint)
	if len(fp) > maxFingerprintLen {
		return DeviceInfo{}, fmt.Errorf("%w: fingerprint too long", ErrInvalidDevice)
	}
	if fp == "" {
		fp = internal.DeviceFingerprint(ua, osName, browser)
	}

	return DeviceInfo{
		ipAddress:   ip,
		userAgent:   ua,
		deviceType:  dt,
		browser:     browser,
		os:          osName,
		fingerprint: fp,
	}, nil
}

func (d DeviceInfo) IPAddress() string      { return d.ipAddress }
func (d DeviceInfo) UserAgent() string      { return d.userAgent }
func (d DeviceInfo) DeviceType() DeviceType { return d.deviceType }
func (d DeviceInfo) Browser() string        { return d.browser }
func (d DeviceInfo) OS() string             { return d.os }
func (d DeviceInfo) Fingerprint() string    { return d.fingerprint }

// IsZero reports whether d was never built through [NewDeviceInfo].
func (d DeviceInfo) IsZero() bool {
	return d == DeviceInfo{}
}

// Input returns the snapshot as a [DeviceInput], e.g. for re-validation.
func (d DeviceInfo) Input() DeviceInput {
	return DeviceInput{
		IPAddress:   d.ipAddress,
		UserAgent:   d.userAgent,
		DeviceType:  string(d.deviceType),
		Browser:     d.browser,
		OS:          d.os,
		Fingerprint: d.fingerprint,
	}
}

type deviceJSON struct {
	IPAddress   string `json:"ipAddress,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
	Browser     string `json:"browser,omitempty"`
	OS          string `json:"os,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func (d DeviceInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceJSON(d.Input()))
}

// UnmarshalJSON restores a stored snapshot. Stored values were validated when
// first written, so only the device type is normalized here.
func (d *DeviceInfo) UnmarshalJSON(data []byte) error {
	var raw deviceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dt := DeviceType(raw.DeviceType)
	if dt == "" && raw != (deviceJSON{}) {
		dt = DeviceUnknown
	}
	*d = DeviceInfo{
		ipAddress:   raw.IPAddress,
		userAgent:   raw.UserAgent,
		deviceType:  dt,
		browser:     raw.Browser,
		os:          raw.OS,
		fingerprint: raw.Fingerprint,
	}
	return nil
}
