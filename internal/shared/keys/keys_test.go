package keys

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexLengths(t *testing.T) {
	assert.Len(t, NewAccessKey(), 32)
	assert.Len(t, NewServerKey(), 8)
	assert.Len(t, NewAPIKey(), 64)
	assert.Len(t, NewSecret(), 32)
}

func TestHexIsRandom(t *testing.T) {
	assert.NotEqual(t, NewAccessKey(), NewAccessKey())
}

func TestDeriveUUIDIsStable(t *testing.T) {
	key := strings.Repeat("a", 32)

	first := DeriveUUID(key)
	second := DeriveUUID(key)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, DeriveUUID(strings.Repeat("b", 32)))
}

func TestDeriveUUIDIsWellFormed(t *testing.T) {
	id, err := uuid.Parse(DeriveUUID(strings.Repeat("a", 32)))
	require.NoError(t, err)

	assert.Equal(t, uuid.Version(4), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
}

func TestDerivePasswordIsStableHex(t *testing.T) {
	key := strings.Repeat("a", 32)

	pw := DerivePassword(key)

	assert.Len(t, pw, 32)
	assert.Equal(t, pw, DerivePassword(key))
	assert.NotEqual(t, pw, DerivePassword("other"))
}
