// Package entrance allocates the user-visible URLs of an env and keeps
// cluster Ingresses in line with them.
package entrance

import (
	"fmt"
	"net/url"
	"strings"

	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// AddressType classifies how a URL was obtained.
type AddressType string

const (
	AddrSubdomain AddressType = "subdomain"
	AddrSubpath   AddressType = "subpath"
	AddrCustom    AddressType = "custom"
)

// URL is one allocated address of an env.
type URL struct {
	Scheme string
	Host   string
	Path   string
	Type   AddressType
}

// AsAddress renders the URL as the address handed to users.
// The path always ends with a slash.
func (u URL) AsAddress() string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path)
}

// FromAddress is the inverse of AsAddress. The address type cannot be
// recovered from the text and is left empty.
func FromAddress(addr string) (URL, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return URL{}, kerr.Wrap(kerr.ErrInvalid, "bad address %q: %s", addr, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return URL{}, kerr.Wrap(kerr.ErrInvalid, "bad address %q", addr)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: path}, nil
}

// shorter orders addresses by length ignoring the scheme; the shortest
// is the preferred address of an env.
func shorter(a URL, b URL) bool {
	la := len(a.Host) + len(a.Path)
	lb := len(b.Host) + len(b.Path)
	if la != lb {
		return la < lb
	}
	return a.AsAddress() < b.AsAddress()
}
