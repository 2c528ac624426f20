package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B vectors for the SHA-1 profile, truncated to the
// 6-digit profile we use.
func TestTOTPCodeVectors(t *testing.T) {
	// base32 of the ASCII key "12345678901234567890"
	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

	cases := []struct {
		at   int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
	}
	for _, tc := range cases {
		code, err := totpCode(secret, tc.at/30)
		require.NoError(t, err)
		assert.Equal(t, tc.code, code)
	}
}

func TestVerifyTOTPSkew(t *testing.T) {
	secret := NewTOTPSecret()
	now := time.Unix(1700000000, 0)

	current, err := totpCode(secret, now.Unix()/30)
	require.NoError(t, err)
	previous, err := totpCode(secret, now.Unix()/30-1)
	require.NoError(t, err)
	stale, err := totpCode(secret, now.Unix()/30-5)
	require.NoError(t, err)

	assert.True(t, VerifyTOTP(secret, current, now))
	assert.True(t, VerifyTOTP(secret, previous, now))
	assert.False(t, VerifyTOTP(secret, stale, now))
	assert.False(t, VerifyTOTP(secret, "000000", now))
}

func TestVerifyTOTPRejectsMalformed(t *testing.T) {
	assert.False(t, VerifyTOTP("not-base32!", "123456", time.Now()))
	assert.False(t, VerifyTOTP(NewTOTPSecret(), "12345", time.Now()))
}
