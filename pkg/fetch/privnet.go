package fetch

import (
	"net"
)

var defaultPrivateCIDRs = []string{
	// Loopback
	"127.0.0.0/8",
	"::1/128",
	// RFC1918 private networks
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	// Link-local
	"169.254.0.0/16",
	"fe80::/10",
	// Misc
	"0.0.0.0/8",
	"255.255.255.255/32",
	"fc00::/7",
}

// PrivateNetworkDetector reports whether addresses fall in private network ranges.
type PrivateNetworkDetector struct {
	blocks []*net.IPNet
}

// NewPrivateNetworkDetector returns a detector for the given CIDRs, or the
// loopback, RFC1918 and link-local ranges when none are given.
func NewPrivateNetworkDetector(cidrs ...string) (*PrivateNetworkDetector, error) {
	if len(cidrs) == 0 {
		cidrs = defaultPrivateCIDRs
	}
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return &PrivateNetworkDetector{blocks: blocks}, nil
}

// IsPrivate checks a resolved IP.
func (d *PrivateNetworkDetector) IsPrivate(ip net.IP) bool {
	for _, block := range d.blocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// IsHostPrivate resolves host and checks the first address.
func (d *PrivateNetworkDetector) IsHostPrivate(host string) (bool, error) {
	addr, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return false, err
	}
	return d.IsPrivate(addr.IP), nil
}
