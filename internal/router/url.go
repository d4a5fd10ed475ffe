package router

import (
	"fmt"
	"net/url"
	"strings"
)

// externalSchemes is the whitelist of schemes accepted for external
// redirects. Anything else must go through ValidateExternalRedirectUnsafe.
var externalSchemes = map[string]bool{
	"http": true, "https": true, "ftp": true, "ftps": true,
	"mailto": true, "news": true, "irc": true, "gopher": true,
	"nntp": true, "feed": true, "telnet": true, "mms": true,
	"rtsp": true, "svn": true, "tel": true, "fax": true, "xmpp": true,
}

// ValidateLocalRedirect checks a local redirect path: it must begin with a
// single "/", must not begin with "//", and must not contain a backslash.
func ValidateLocalRedirect(to string) error {
	if !strings.HasPrefix(to, "/") {
		return fmt.Errorf("router: local redirect %q must start with /", to)
	}
	if strings.HasPrefix(to, "//") {
		return fmt.Errorf("router: local redirect %q must not start with //", to)
	}
	if strings.Contains(to, `\`) {
		return fmt.Errorf("router: local redirect %q must not contain a backslash", to)
	}
	return nil
}

// ValidateExternalRedirect checks an external redirect URL against the
// scheme whitelist.
func ValidateExternalRedirect(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("router: invalid external redirect %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("router: external redirect %q has no scheme", raw)
	}
	if !externalSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("router: external redirect scheme %q is not allowed", u.Scheme)
	}
	return nil
}

// ValidateExternalRedirectUnsafe is the explicit opt-in for schemes outside
// the whitelist. It only requires a parseable URL with some scheme.
func ValidateExternalRedirectUnsafe(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("router: invalid external redirect %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("router: external redirect %q has no scheme", raw)
	}
	return nil
}
