package discovery

import (
	"fmt"
	"math/bits"
	"net"
)

// subnet is one locally attached IPv4 network derived from an
// interface's (address, mask) pair.
type subnet struct {
	Network net.IP
	Prefix  int
}

// CIDR returns the subnet in CIDR notation, e.g. "192.168.1.0/24".
func (s subnet) CIDR() string {
	return fmt.Sprintf("%s/%d", s.Network, s.Prefix)
}

// HostCandidates generates the probe targets for this subnet: a
// last-octet sweep of {network}.1 through {network}.254. Finer or
// coarser prefixes are not special-cased; probes against addresses
// outside the real range just fail fast.
func (s subnet) HostCandidates() []string {
	base := s.Network.To4()
	if base == nil {
		return nil
	}

	candidates := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		candidates = append(candidates, fmt.Sprintf("%d.%d.%d.%d", base[0], base[1], base[2], i))
	}
	return candidates
}

// localSubnets lists the IPv4 networks attached to every up,
// non-loopback interface. The network address is the bitwise AND of
// address and mask; the prefix length is the popcount of the mask.
func localSubnets() ([]subnet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	seen := make(map[string]bool)
	var subnets []subnet

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}

			mask := ipnet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			if len(mask) != net.IPv4len {
				continue
			}

			sn := networkOf(ip4, mask)
			if seen[sn.CIDR()] {
				continue
			}
			seen[sn.CIDR()] = true
			subnets = append(subnets, sn)
		}
	}

	return subnets, nil
}

// networkOf computes the network address and prefix length from an
// address/mask pair.
func networkOf(ip net.IP, mask net.IPMask) subnet {
	network := make(net.IP, net.IPv4len)
	prefix := 0
	for i := 0; i < net.IPv4len; i++ {
		network[i] = ip[i] & mask[i]
		prefix += bits.OnesCount8(mask[i])
	}
	return subnet{Network: network, Prefix: prefix}
}
