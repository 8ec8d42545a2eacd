// Package network derives container addresses and probes hosts.
package network

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrAddressOverflow is returned when a derived address leaves the usable range.
var ErrAddressOverflow = errors.New("derived address out of range")

const maxHostOctet = 254

// DeriveIP returns the address of the offset-th container given the base
// address in CIDR form. Offsets carry into the third octet once: a fourth
// octet above 254 wraps to octet-254 on the next /24.
func DeriveIP(base string, offset int) (string, error) {
	if offset < 0 {
		return "", fmt.Errorf("negative offset %d", offset)
	}

	addrPart, bits := base, ""
	if i := strings.IndexByte(base, '/'); i >= 0 {
		addrPart, bits = base[:i], base[i:]
	}

	addr, err := netip.ParseAddr(addrPart)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("invalid IPv4 base address %q", base)
	}

	octets := addr.As4()
	third := int(octets[2])
	fourth := int(octets[3]) + offset
	if fourth > maxHostOctet {
		fourth -= maxHostOctet
		third++
	}
	if fourth > maxHostOctet || third > 255 {
		return "", fmt.Errorf("%w: %s + %d", ErrAddressOverflow, base, offset)
	}

	octets[2] = byte(third)
	octets[3] = byte(fourth)
	return netip.AddrFrom4(octets).String() + bits, nil
}

// DeriveContainerID returns the id of the offset-th container.
func DeriveContainerID(base, offset int) int {
	return base + offset
}

// StripPrefix returns the address without its /bits suffix.
func StripPrefix(cidr string) string {
	if i := strings.IndexByte(cidr, '/'); i >= 0 {
		return cidr[:i]
	}
	return cidr
}

// Net0 renders a pct --net0 value for a static address.
func Net0(bridge, cidr, gateway string) string {
	return fmt.Sprintf("name=eth0,bridge=%s,ip=%s,gw=%s,type=veth", bridge, cidr, gateway)
}
