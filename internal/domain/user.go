// Package domain contains entities without behavior, just meta-data
// and the identity rules the rest of the system relies on.
package domain

import (
	"errors"
	"strconv"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// UserID is the persistent user identity. It is distinct from TransportID,
// which changes every time the user reconnects.
type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

func NewUser(id UserID, username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: id, Username: username}, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

// Before reports whether a orders strictly before b.
//
// The ordering is total across mixed id representations: when both ids are
// decimal integers they compare numerically, so "9" orders before "10"
// regardless of which side formatted the id as a string. Numerically equal
// but distinct spellings ("07" vs "7") break the tie byte-wise, and
// everything else compares byte-wise. Both sides of a negotiation must reach
// the same verdict from opposite arguments, which this guarantees.
func (a UserID) Before(b UserID) bool {
	an, aok := strconv.ParseInt(string(a), 10, 64)
	bn, bok := strconv.ParseInt(string(b), 10, 64)
	if aok == nil && bok == nil && an != bn {
		return an < bn
	}
	return a < b
}
