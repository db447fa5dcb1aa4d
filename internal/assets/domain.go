package assets

import (
	"net/url"
	"regexp"
	"strings"
)

var remoteSchemeRe = regexp.MustCompile(`(?i)^(https?|ftps?)://`)

// Domain is the local site authority, host with an optional port.
type Domain string

// IsLocal reports whether rawURL is hosted on d or on a subdomain of d.
// The authority is compared as written, so a different port is remote.
func (d Domain) IsLocal(rawURL string) bool {
	dom := strings.ToLower(strings.TrimSpace(string(d)))
	if dom == "" {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	return host == dom || strings.HasSuffix(host, "."+dom)
}

// isRemote reports whether rawURL uses a scheme assets can be fetched over.
func isRemote(rawURL string) bool {
	return remoteSchemeRe.MatchString(strings.TrimSpace(rawURL))
}
