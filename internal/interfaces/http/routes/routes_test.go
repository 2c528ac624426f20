package routes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchClientPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantTag  string
		wantKey  string
		wantInfo bool
		wantOK   bool
	}{
		{"bundle", "/guards/0123456789abcdef", "guards", "0123456789abcdef", false, true},
		{"info", "/guards/0123456789abcdef/info", "guards", "0123456789abcdef", true, true},
		{"mixed case tag", "/MyShop01/deadbeef", "MyShop01", "deadbeef", false, true},
		{"tag too short", "/api/auth", "", "", false, false},
		{"sub prefix rejected", "/sub/deadbeef", "", "", false, false},
		{"tag too long", "/" + strings.Repeat("a", 31) + "/deadbeef", "", "", false, false},
		{"tag with symbols", "/my-shop/deadbeef", "", "", false, false},
		{"wrong third segment", "/guards/deadbeef/usage", "", "", false, false},
		{"empty key", "/guards//info", "", "", false, false},
		{"single segment", "/guards", "", "", false, false},
		{"four segments", "/guards/deadbeef/info/extra", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, key, info, ok := matchClientPath(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTag, tag)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantInfo, info)
		})
	}
}
