package gate

import (
	"net/url"
	"strings"
)

// SafeRedirect returns target when it is a same-site absolute path, and
// fallback otherwise. Scheme-relative ("//host") and backslash forms are
// rejected since browsers treat them as other origins.
func SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return fallback
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") || strings.ContainsAny(target, "\r\n") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return u.RequestURI()
}
