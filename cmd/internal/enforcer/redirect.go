package enforcer

import (
	"net/url"
	"strings"
)

// DefaultLoginPath is the re-authentication entry point.
const DefaultLoginPath = "/login"

// ReauthURL builds the re-authentication location for reason. redirect is the
// path the user should return to after signing in again; it is dropped unless
// it is a local absolute path, so the parameter cannot be used as an open
// redirect.
func ReauthURL(loginPath, reason, redirect string) string {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	q := url.Values{}
	q.Set("reason", reason)
	if isLocalPath(redirect) {
		q.Set("redirect", redirect)
	}

	sep := "?"
	if strings.Contains(loginPath, "?") {
		sep = "&"
	}
	return loginPath + sep + q.Encode()
}

func isLocalPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
