package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestByteConvert(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want string
	}{
		{"zero", 0, "0B"},
		{"bytes", 512, "512.00 B"},
		{"kilobytes", 2048, "2.00 KB"},
		{"gigabytes", 5 << 30, "5.00 GB"},
		{"negative", -1024, "-1.00 KB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ByteConvert(tt.in))
		})
	}
}

func TestTimeConvert(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "Unlimited", TimeConvert(0, now))
	assert.Equal(t, "1 d", TimeConvert(-86400, now))
	assert.Equal(t, "1 d, 2 h", TimeConvert(now.Unix()+86400+7200, now))

	// At most two units are shown.
	assert.Equal(t, "2 h, 30 min", TimeConvert(now.Unix()+7200+1800+45, now))
}

func TestDayConvert(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(3), DayConvert(-3*86400, now))
	assert.Equal(t, int64(2), DayConvert(now.Unix()+2*86400+3600, now))
}

func TestDateConvert(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-06-02 00:00:00 UTC", DateConvert(-86400, now))
	assert.Equal(t, "2025-06-02 00:00:00 UTC", DateConvert(now.Unix()+86400, now))
}

func TestRender(t *testing.T) {
	out := Render("{server_id} {server_emoji} {username}", map[string]string{
		"server_id":    "03",
		"server_emoji": "🇺🇸",
		"username":     "alice",
	})
	assert.Equal(t, "03 🇺🇸 alice", out)
}

func TestRenderKeepsUnknownKeys(t *testing.T) {
	out := Render("{username} {missing}", map[string]string{"username": "alice"})
	assert.Equal(t, "alice {missing}", out)
}

func TestCollapseSpaces(t *testing.T) {
	assert.Equal(t, "a b c", CollapseSpaces("  a \t b\n c "))
}
