package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goToken/token"
)

const sessionFormatVersionCurrent = 1

const (
	flagActive byte = 1 << 0
)

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session blob corrupt")

// Encode serializes r into the compact binary session format.
//
// Layout: version byte, length-prefixed SessionID, UserID, TokenFamily, the six
// device fields, CreatedAt and LastActivity as big-endian unix millis, then a
// flag byte.
func Encode(r Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	dev := r.Device.Input()
	for _, field := range []struct {
		name  string
		value string
	}{
		{"sessionID", r.SessionID},
		{"userID", r.UserID},
		{"tokenFamily", r.TokenFamily},
		{"ipAddress", dev.IPAddress},
		{"userAgent", dev.UserAgent},
		{"deviceType", dev.DeviceType},
		{"browser", dev.Browser},
		{"os", dev.OS},
		{"fingerprint", dev.Fingerprint},
	} {
		if err := writeString(&buf, field.value); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.LastActivity.UnixMilli()); err != nil {
		return nil, err
	}

	var flags byte
	if r.IsActive {
		flags |= flagActive
	}
	buf.WriteByte(flags)

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode].
func Decode(data []byte) (Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != sessionFormatVersionCurrent {
		return Record{}, fmt.Errorf("%w: unsupported session schema version %d", ErrCorrupt, version)
	}

	fields := make([]string, 9)
	for i := range fields {
		s, err := readString(reader)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		fields[i] = s
	}

	var createdAt, lastActivity int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := binary.Read(reader, binary.BigEndian, &lastActivity); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if reader.Len() != 0 {
		return Record{}, fmt.Errorf("%w: trailing bytes", ErrCorrupt)
	}

	var device token.DeviceInfo
	in := token.DeviceInput{
		IPAddress:   fields[3],
		UserAgent:   fields[4],
		DeviceType:  fields[5],
		Browser:     fields[6],
		OS:          fields[7],
		Fingerprint: fields[8],
	}
	if in != (token.DeviceInput{}) {
		device, err = token.NewDeviceInfo(in)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	return Record{
		SessionID:    fields[0],
		UserID:       fields[1],
		TokenFamily:  fields[2],
		Device:       device,
		CreatedAt:    time.UnixMilli(createdAt),
		LastActivity: time.UnixMilli(lastActivity),
		IsActive:     flags&flagActive != 0,
	}, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return errors.New("field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > reader.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
