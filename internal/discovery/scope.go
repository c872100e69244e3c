// internal/discovery/scope.go
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope bounds a traversal to the organization that owns the start URL.
// Hrefs and popups outside of it are never followed.
type Scope struct {
	startHost         string
	rootDomain        string
	includeSubdomains bool
}

// NewScope derives the scope from the start URL.
func NewScope(startURL string, includeSubdomains bool) (*Scope, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return nil, fmt.Errorf("start URL must have a hostname: %s", startURL)
	}

	// The Public Suffix List handles domains like 'example.co.uk'. IPs and
	// single-label hosts (localhost) have no eTLD+1 and are their own root.
	root := hostname
	if net.ParseIP(hostname) == nil && strings.Contains(hostname, ".") {
		domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
		if err != nil {
			return nil, fmt.Errorf("could not determine effective TLD+1 for %s: %w", hostname, err)
		}
		root = domain
	}

	return &Scope{
		startHost:         hostname,
		rootDomain:        root,
		includeSubdomains: includeSubdomains,
	}, nil
}

// IsInScope reports whether an absolute URL belongs to the scope.
func (s *Scope) IsInScope(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	if host == s.startHost || host == s.rootDomain {
		return true
	}
	// Require the dot so "notexample.com" never matches "example.com".
	return s.includeSubdomains && strings.HasSuffix(host, "."+s.rootDomain)
}

// Allows resolves href against base and checks it. Empty and fragment-only
// hrefs stay on the current page and are always allowed.
func (s *Scope) Allows(base *url.URL, href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	ref, err := url.Parse(href)
	if err != nil {
		return false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return s.IsInScope(ref)
}

// RootDomain returns the eTLD+1 defining the scope.
func (s *Scope) RootDomain() string {
	return s.rootDomain
}
