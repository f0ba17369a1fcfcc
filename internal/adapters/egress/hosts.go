package egress

import (
	"net"
	"strings"
)

const metadataAddress = "169.254.169.254"

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata":                 {},
	"metadata.google.internal": {},
	"instance-data":            {},
}

var blockedSuffixes = []string{".localhost", ".local", ".internal"}

var extraBlockedNets = mustParseCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"198.18.0.0/15",
	"fd00:ec2::254/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return host
}

// blockedHostReason returns a non-empty reason when host names an internal
// destination on its face, before any DNS resolution.
func blockedHostReason(host string) string {
	if _, ok := blockedHostnames[host]; ok {
		return "internal hostname"
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return "internal hostname suffix " + suffix
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return blockedIPReason(ip)
	}
	return ""
}

func blockedIPReason(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case ip.Equal(net.ParseIP(metadataAddress)):
		return "cloud metadata address"
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsPrivate():
		return "private network address"
	case ip.IsUnspecified():
		return "unspecified address"
	case ip.IsMulticast(), ip.IsInterfaceLocalMulticast():
		return "multicast address"
	}

	for _, n := range extraBlockedNets {
		if n.Contains(ip) {
			return "reserved address range"
		}
	}
	return ""
}

// hostMatches reports whether host is covered by a list entry. Entries match
// exactly; "*.example.com" and ".example.com" also match any subdomain.
func hostMatches(host string, entries []string) bool {
	for _, entry := range entries {
		entry = normalizeHost(entry)
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "*."):
			if strings.HasSuffix(host, entry[1:]) {
				return true
			}
		case strings.HasPrefix(entry, "."):
			if strings.HasSuffix(host, entry) {
				return true
			}
		case host == entry:
			return true
		}
	}
	return false
}
