package model

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// profilePathPrefixes are the URL path prefixes that precede a profile's
// public handle.
var profilePathPrefixes = []string{"/in/", "/pub/"}

// NormalizeIdentity reduces a profile URL or bare handle to its canonical
// handle: scheme, host, query and trailing path segments are dropped and the
// result is NFC-normalized and case-folded. An empty result means the
// prospect cannot be addressed.
//
//	https://www.linkedin.com/in/John-Doe-123/?utm=x  -> john-doe-123
//	linkedin.com/in/JOHN-DOE/                        -> john-doe
//	jane.smith                                       -> jane.smith
func NormalizeIdentity(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		if u, err := url.Parse(s); err == nil {
			s = u.Path
		}
		for _, prefix := range profilePathPrefixes {
			if i := strings.Index(s, prefix); i >= 0 {
				s = s[i+len(prefix):]
				break
			}
		}
		s = strings.Trim(s, "/")
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
	}

	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if decoded, err := url.PathUnescape(s); err == nil {
		s = decoded
	}
	return strings.TrimSpace(cases.Fold().String(norm.NFC.String(s)))
}

// providerRefPrefixes mark identifiers already issued by the provider, which
// need no lookup before a follow-up.
var providerRefPrefixes = []string{"ACo", "ACw"}

// IsProviderRef reports whether s is already a provider-issued reference
// rather than a public handle.
func IsProviderRef(s string) bool {
	for _, p := range providerRefPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
