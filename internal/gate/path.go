package gate

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrMalformedPath is returned for request paths with invalid escapes,
// control characters or backslashes.
var ErrMalformedPath = errors.New("gate: malformed request path")

// CanonicalPath percent-decodes raw once, then resolves dot segments and
// duplicate slashes. A trailing slash is kept. The gate classifies this form,
// so it must also be the form the upstream receives.
func CanonicalPath(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPath, err)
	}
	for i := 0; i < len(decoded); i++ {
		if b := decoded[i]; b < 0x20 || b == 0x7f || b == '\\' {
			return "", ErrMalformedPath
		}
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}

	clean := path.Clean(decoded)
	if clean != "/" && strings.HasSuffix(decoded, "/") {
		clean += "/"
	}
	return clean, nil
}

// EscapedPath renders a canonical path for the wire.
func EscapedPath(canonical string) string {
	return (&url.URL{Path: canonical}).EscapedPath()
}
