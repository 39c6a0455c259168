package token

import (
	"encoding/json"
	"errors"
)

const (
	recordFormatVersionCurrent = 1
)

// ErrCorruptRecord is returned when a stored blob cannot be decoded.
var ErrCorruptRecord = errors.New("token record corrupt")

// Encode serializes r as a format-version byte followed by its JSON form.
func Encode(r Record) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, recordFormatVersionCurrent)
	out = append(out, body...)
	return out, nil
}

// Decode is the inverse of [Encode].
func Decode(data []byte) (Record, error) {
	if len(data) < 2 {
		return Record{}, ErrCorruptRecord
	}
	if data[0] != recordFormatVersionCurrent {
		return Record{}, ErrCorruptRecord
	}

	var r Record
	if err := json.Unmarshal(data[1:], &r); err != nil {
		return Record{}, ErrCorruptRecord
	}
	if r.ID == "" {
		return Record{}, ErrCorruptRecord
	}
	return r, nil
}
