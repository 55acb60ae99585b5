package web

import (
	"fmt"
	"net"
)

// blockedRanges are CIDR ranges that must never be fetched: loopback,
// private networks, link-local, and cloud metadata endpoints.
var blockedRanges = []string{
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // private
	"172.16.0.0/12",  // private
	"192.168.0.0/16", // private
	"169.254.0.0/16", // link-local (cloud metadata)
	"0.0.0.0/8",      // current network
	"100.64.0.0/10",  // carrier-grade NAT
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
}

var blockedNets []*net.IPNet

func init() {
	for _, cidr := range blockedRanges {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid blocked CIDR: " + cidr)
		}
		blockedNets = append(blockedNets, ipNet)
	}
}

// CheckSSRF resolves the hostname and rejects it if any resolved address
// falls in a blocked range. Blocking at resolution time is not a complete
// defense against DNS rebinding, but it stops the common cases.
func CheckSSRF(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("empty hostname")
	}

	// Literal IPs skip DNS.
	if ip := net.ParseIP(hostname); ip != nil {
		return checkIP(hostname, ip)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", hostname, err)
	}
	for _, ip := range ips {
		if err := checkIP(hostname, ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(hostname string, ip net.IP) error {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return fmt.Errorf("host %s resolves to blocked address %s", hostname, ip)
		}
	}
	return nil
}
