package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/":                           "/",
		"":                            "/",
		"/dashboard":                  "/dashboard",
		"/dashboard/":                 "/dashboard/",
		"//dashboard///settings":      "/dashboard/settings",
		"/blog/../dashboard/settings": "/dashboard/settings",
		"/blog/%2e%2e/admin/users":    "/admin/users",
		"/blog/%2E%2E/%2E%2E/admin":   "/admin",
		"/%64ashboard":                "/dashboard",
		"/dashboard%2Fsettings":       "/dashboard/settings",
		"/static/../dashboard":        "/dashboard",
		"/dashboard/./settings/.":     "/dashboard/settings",
		"/../../admin":                "/admin",
		"/blog/caf%C3%A9":             "/blog/café",
	}
	for raw, want := range tests {
		got, err := CanonicalPath(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestCanonicalPathRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"/dashboard/%zz", "/admin%00", "/%5Cadmin", "/a%0d%0aSet-Cookie:x"} {
		_, err := CanonicalPath(raw)
		assert.ErrorIs(t, err, ErrMalformedPath, raw)
	}
}

func TestEscapedPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/dashboard/settings", EscapedPath("/dashboard/settings"))
	assert.Equal(t, "/blog/caf%C3%A9", EscapedPath("/blog/café"))
	assert.Equal(t, "/blog/100%25", EscapedPath("/blog/100%"))
}
