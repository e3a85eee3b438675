package security

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// BlockedPorts mirrors the source's dangerous-service port set.
var BlockedPorts = map[int]struct{}{
	22: {}, 23: {}, 25: {}, 445: {}, 3389: {}, 6379: {}, 27017: {},
}

var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// URLValidator rejects a URL unless its scheme, host, and port pass an
// allow-list, and the resolved address (optionally via DNS) is not inside a
// private or reserved network. It defends against SSRF when resuming
// downloads from URLs read back out of persisted state.
type URLValidator struct {
	AllowedSchemes  map[string]struct{}
	AllowedHosts    []string
	BlockPrivateIPs bool
	ResolveDNS      bool

	// Resolver is overridable for tests; defaults to net.DefaultResolver.
	Resolver interface {
		LookupIPAddr(host string) ([]net.IPAddr, error)
	}
}

type defaultResolver struct{}

func (defaultResolver) LookupIPAddr(host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(context.Background(), host)
}

// NewURLValidator constructs a validator over the given scheme/host
// allow-lists, with private-IP blocking and DNS resolution on by default.
func NewURLValidator(allowedSchemes, allowedHosts []string) *URLValidator {
	schemes := make(map[string]struct{}, len(allowedSchemes))
	for _, s := range allowedSchemes {
		schemes[s] = struct{}{}
	}
	return &URLValidator{
		AllowedSchemes:  schemes,
		AllowedHosts:    allowedHosts,
		BlockPrivateIPs: true,
		ResolveDNS:      true,
		Resolver:        defaultResolver{},
	}
}

// Validate reports whether rawURL passes every check: scheme allow-list,
// blocked-port set, host allow-list (exact or subdomain match), and
// (unless disabled) private/reserved-network rejection.
func (v *URLValidator) Validate(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if _, ok := v.AllowedSchemes[parsed.Scheme]; !ok {
		return false
	}

	if portStr := parsed.Port(); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			if _, blocked := BlockedPorts[port]; blocked {
				return false
			}
		}
	}

	host := strings.ToLower(parsed.Hostname())
	if !v.hostAllowed(host) {
		return false
	}

	if v.BlockPrivateIPs && !v.checkNotPrivate(host) {
		return false
	}

	return true
}

func (v *URLValidator) hostAllowed(host string) bool {
	if host == "" {
		return false
	}
	for _, allowed := range v.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (v *URLValidator) checkNotPrivate(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return !isPrivateIP(ip)
	}

	if !v.ResolveDNS {
		return true
	}

	addrs, err := v.Resolver.LookupIPAddr(host)
	if err != nil {
		// DNS resolution failed; conservative default matches the source:
		// allow, since we cannot classify what we cannot resolve.
		return true
	}
	for _, a := range addrs {
		if isPrivateIP(a.IP) {
			return false
		}
	}
	return true
}

func isPrivateIP(ip net.IP) bool {
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
