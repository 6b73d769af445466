package owdns

import (
	"net"

	"github.com/miekg/dns"
)

// ecsScope identifies the network an cached answer is valid for. The zero
// value (PrefixLen == 0) means "no ECS", matching every client.
type ecsScope struct {
	Family    uint16 // 1 = IPv4, 2 = IPv6, 0 = none
	PrefixLen uint8
	Network   [16]byte // masked address, left-aligned, comparable
}

func (s ecsScope) empty() bool { return s.PrefixLen == 0 }

// scopeFromAnswer extracts the ECS scope the upstream response was given
// for, per RFC 7871's scope_prefix_length. Returns the zero scope if the
// response carries no ECS option or its scope prefix is 0.
func scopeFromAnswer(a *dns.Msg) ecsScope {
	if a == nil {
		return ecsScope{}
	}
	opt := a.IsEdns0()
	if opt == nil {
		return ecsScope{}
	}
	for _, o := range opt.Option {
		ecs, ok := o.(*dns.EDNS0_SUBNET)
		if !ok || ecs.SourceScope == 0 {
			continue
		}
		return maskToScope(ecs.Address, ecs.Family, ecs.SourceScope)
	}
	return ecsScope{}
}

// maskToScope masks ip to prefixLen bits for the given EDNS0 family (1=v4,
// 2=v6) and returns the resulting scope.
func maskToScope(ip net.IP, family uint16, prefixLen uint8) ecsScope {
	var bits int
	var addr net.IP
	switch family {
	case 1:
		addr = ip.To4()
		bits = 32
	case 2:
		addr = ip.To16()
		bits = 128
	default:
		return ecsScope{}
	}
	if addr == nil {
		return ecsScope{}
	}
	masked := addr.Mask(net.CIDRMask(int(prefixLen), bits))
	var network [16]byte
	copy(network[:], masked.To16())
	return ecsScope{Family: family, PrefixLen: prefixLen, Network: network}
}

// scopeContains reports whether client ip falls inside scope's network.
func scopeContains(scope ecsScope, ip net.IP) bool {
	if scope.empty() {
		return true
	}
	var family uint16
	if ip.To4() != nil {
		family = 1
	} else {
		family = 2
	}
	if family != scope.Family {
		return false
	}
	candidate := maskToScope(ip, scope.Family, scope.PrefixLen)
	return candidate.Network == scope.Network
}
