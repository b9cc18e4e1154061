package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStaffToken(t *testing.T) {
	tok, err := NewStaffToken("s3cret", "staff-9", "ADMIN", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "staff-9", claims["sub"])
	assert.Equal(t, "ADMIN", claims["role"])
}

func TestNewStaffToken_Rejects(t *testing.T) {
	_, err := NewStaffToken("", "staff-9", "ADMIN", time.Hour)
	assert.Error(t, err)
	_, err = NewStaffToken("s3cret", "staff-9", "ADMIN", 0)
	assert.Error(t, err)
}
