package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeRedirect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target string
		want   string
	}{
		{"", "/dashboard"},
		{"/dashboard/settings", "/dashboard/settings"},
		{"/settings?tab=billing", "/settings?tab=billing"},
		{"https://evil.example.com", "/dashboard"},
		{"//evil.example.com", "/dashboard"},
		{"/\\evil.example.com", "/dashboard"},
		{"dashboard", "/dashboard"},
		{"/a\r\nSet-Cookie: x=y", "/dashboard"},
		{"javascript:alert(1)", "/dashboard"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeRedirect(tt.target, "/dashboard"), tt.target)
	}
}
