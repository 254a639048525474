package services

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// dnsLookupTimeout bounds resolution during URL validation.
const dnsLookupTimeout = 5 * time.Second

// URLValidator rejects subscription URLs that would let a client steer
// the aggregator at internal infrastructure.
type URLValidator struct {
	allowedSchemes  map[string]bool
	blockedNetworks []*net.IPNet
}

func NewURLValidator() *URLValidator {
	blockedRanges := []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"169.254.0.0/16", // link-local, includes cloud metadata
		"224.0.0.0/4",    // multicast
		"240.0.0.0/4",    // reserved
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
		"ff00::/8",       // IPv6 multicast
	}

	validator := &URLValidator{
		allowedSchemes: map[string]bool{"http": true, "https": true},
	}
	for _, cidr := range blockedRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			validator.blockedNetworks = append(validator.blockedNetworks, network)
		}
	}
	return validator
}

// ValidateURL checks scheme, host and every resolved address of a
// subscription URL.
func (v *URLValidator) ValidateURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if !v.allowedSchemes[parsed.Scheme] {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return v.checkIP(hostname, ip)
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
	defer cancel()

	ips, err := (&net.Resolver{}).LookupIP(dnsCtx, "ip", hostname)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %v", ErrInvalidURL, hostname, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("%w: %s does not resolve", ErrInvalidURL, hostname)
	}

	for _, ip := range ips {
		if err := v.checkIP(hostname, ip); err != nil {
			return err
		}
	}
	return nil
}

func (v *URLValidator) checkIP(hostname string, ip net.IP) error {
	for _, network := range v.blockedNetworks {
		if network.Contains(ip) {
			return fmt.Errorf("%w: %s resolves into blocked range %s", ErrInvalidURL, hostname, network)
		}
	}
	return nil
}

// ValidateAndNormalizeURL trims the input, defaults the scheme to
// https, and validates the result.
func (v *URLValidator) ValidateAndNormalizeURL(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	if err := v.ValidateURL(ctx, rawURL); err != nil {
		return "", err
	}
	return rawURL, nil
}
