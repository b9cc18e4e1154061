// Package utils holds small helpers shared by the server and the operator
// tooling.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed staff bearer token with its expiry.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires_at"`
}

// NewStaffToken signs an HS256 JWT for a staff member.  The claims are
// sub (the staff identifier recorded on check-ins and claims), role,
// exp and iat, which is what middleware.StaffAuth verifies.
func NewStaffToken(secret, staffID, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" || staffID == "" || role == "" {
		return AccessToken{}, errors.New("secret, staff id and role are required")
	}
	if ttl <= 0 {
		return AccessToken{}, errors.New("ttl must be positive")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  staffID,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
