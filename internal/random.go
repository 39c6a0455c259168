package internal

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewRecordID returns a time-sortable ULID so lexical order of record ids
// follows issuance order.
func NewRecordID() string {
	return ulid.Make().String()
}

// NewJTI returns a random token id for the jti claim.
func NewJTI() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewFamilyID returns the id shared by every token descended from one login.
func NewFamilyID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewSessionID returns a stable session id that survives rotation.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
