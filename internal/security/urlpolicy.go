package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrPrivateIP     = errors.New("URL resolves to private IP address")
	ErrInvalidScheme = errors.New("only HTTP and HTTPS URLs are allowed")
	ErrUserInfo      = errors.New("URLs with credentials are not allowed")
	ErrMissingHost   = errors.New("URL has no host")
)

// URLPolicy decides which variation URLs this process may download.
// Hosts listed in TrustedHosts skip the private address check, so a backend on
// localhost can still serve its own images.
type URLPolicy struct {
	TrustedHosts []string
	AllowPrivate bool

	lookupIP func(host string) ([]net.IP, error)
}

func NewURLPolicy(trustedHosts ...string) *URLPolicy {
	hosts := make([]string, 0, len(trustedHosts))
	for _, h := range trustedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLPolicy{TrustedHosts: hosts, lookupIP: net.LookupIP}
}

// TrustedHostOf returns the hostname of rawURL, or "" when it does not parse.
func TrustedHostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// CheckFetch accepts URLs this process may download from.
func (p *URLPolicy) CheckFetch(rawURL string) error {
	u, err := parseImageURL(rawURL)
	if err != nil {
		return err
	}

	host := strings.ToLower(u.Hostname())
	if p.AllowPrivate || p.isTrusted(host) {
		return nil
	}
	return p.validateHostIP(host)
}

func parseImageURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, ErrInvalidScheme
	}
	if u.User != nil {
		return nil, ErrUserInfo
	}
	if u.Hostname() == "" {
		return nil, ErrMissingHost
	}
	return u, nil
}

func (p *URLPolicy) isTrusted(host string) bool {
	for _, trusted := range p.TrustedHosts {
		if host == trusted {
			return true
		}
	}
	return false
}

func (p *URLPolicy) validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	lookup := p.lookupIP
	if lookup == nil {
		lookup = net.LookupIP
	}
	ips, err := lookup(host)
	if err != nil {
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}

	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0: // 0.0.0.0/8
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // 100.64.0.0/10 (CGNAT)
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0:
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2,
			ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100,
			ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113: // documentation ranges
			return true
		case ip4[0] >= 224: // multicast and reserved
			return true
		}
	}

	return false
}
