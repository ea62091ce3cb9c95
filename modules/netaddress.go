package modules

import (
	"net/url"
	"strings"
)

// A NetAddress is the endpoint of a content node, e.g.
// "http://cn1.example.com:4000". Addresses are compared as strings, so
// callers should not mix trailing-slash and bare forms.
type NetAddress string

// IsValid returns whether the address parses as an absolute http or https
// URL with a host component.
func (na NetAddress) IsValid() bool {
	u, err := url.Parse(string(na))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// String returns the address as a string with any trailing slash removed.
func (na NetAddress) String() string {
	return strings.TrimRight(string(na), "/")
}
