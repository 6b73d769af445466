package owdns

import (
	"net"

	"github.com/miekg/dns"
)

// ECSPolicyKind is one of the three EDNS Client Subnet transformation
// policies from spec.md §4.5.
type ECSPolicyKind int

const (
	// ECSStrip removes any ECS option and sends none upstream. It is the
	// default policy when none is configured.
	ECSStrip ECSPolicyKind = iota
	// ECSForward passes an incoming ECS option through unchanged, or
	// synthesizes one from the trusted client IP at the address family's
	// full prefix length if the request carried none.
	ECSForward
	// ECSAnonymize synthesizes ECS from the trusted client IP, masked to
	// the configured prefix length, overriding any incoming ECS.
	ECSAnonymize
)

func (k ECSPolicyKind) String() string {
	switch k {
	case ECSForward:
		return "forward"
	case ECSAnonymize:
		return "anonymize"
	default:
		return "strip"
	}
}

// ECSPolicy applies one of the three ECS transformation policies to an
// outbound query, per spec.md §4.5. The zero value is the strip policy.
type ECSPolicy struct {
	Kind ECSPolicyKind

	// IPv4PrefixLength/IPv6PrefixLength bound the anonymize policy. Default
	// to 24 and 48 respectively when zero.
	IPv4PrefixLength uint8
	IPv6PrefixLength uint8
}

// defaultECSPolicy is spec.md §4.5's global default when neither a group
// nor the global configuration names one.
var defaultECSPolicy = ECSPolicy{Kind: ECSStrip}

func (p ECSPolicy) ipv4Prefix() uint8 {
	if p.IPv4PrefixLength == 0 {
		return 24
	}
	return p.IPv4PrefixLength
}

func (p ECSPolicy) ipv6Prefix() uint8 {
	if p.IPv6PrefixLength == 0 {
		return 48
	}
	return p.IPv6PrefixLength
}

// Apply transforms q's EDNS0 Client Subnet option in place according to the
// policy and the request's client IP, per spec.md §4.5. It returns whether
// any ECS option is present on q afterward, so the caller (the dispatcher)
// knows whether the response's ECS scope is meaningful for cache-keying: the
// dispatcher removes any ECS option from the answer to a query sent without
// one (always the case under the strip policy, per SPEC_FULL.md §13).
func (p ECSPolicy) Apply(q *dns.Msg, ci ClientInfo) (sentECS bool) {
	switch p.Kind {
	case ECSStrip:
		stripECS(q)
		return false
	case ECSForward:
		if hasECS(q) {
			return true
		}
		if ci.SourceIP == nil {
			return false
		}
		return p.synthesize(q, ci.SourceIP, fullPrefix(ci.SourceIP))
	case ECSAnonymize:
		if ci.SourceIP == nil {
			stripECS(q)
			return false
		}
		var prefix uint8
		if ci.SourceIP.To4() != nil {
			prefix = p.ipv4Prefix()
		} else {
			prefix = p.ipv6Prefix()
		}
		return p.synthesize(q, ci.SourceIP, prefix)
	default:
		stripECS(q)
		return false
	}
}

func fullPrefix(ip net.IP) uint8 {
	if ip.To4() != nil {
		return 32
	}
	return 128
}

// synthesize replaces any existing ECS option on q with one derived from
// ip masked to prefix bits. Zero-bits beyond the prefix are cleared, per
// spec.md §4.5's explicit requirement.
func (p ECSPolicy) synthesize(q *dns.Msg, ip net.IP, prefix uint8) bool {
	stripECS(q)

	var family uint16
	var addr net.IP
	var bits int
	if v4 := ip.To4(); v4 != nil {
		family, addr, bits = 1, v4, 32
	} else {
		family, addr, bits = 2, ip.To16(), 128
	}
	if addr == nil {
		return false
	}
	masked := addr.Mask(net.CIDRMask(int(prefix), bits))

	opt := q.IsEdns0()
	if opt == nil {
		q.SetEdns0(4096, false)
		opt = q.IsEdns0()
	}
	opt.Option = append(opt.Option, &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        family,
		SourceNetmask: prefix,
		SourceScope:   0,
		Address:       masked,
	})
	return true
}

func hasECS(q *dns.Msg) bool {
	opt := q.IsEdns0()
	if opt == nil {
		return false
	}
	for _, o := range opt.Option {
		if _, ok := o.(*dns.EDNS0_SUBNET); ok {
			return true
		}
	}
	return false
}

func stripECS(q *dns.Msg) {
	opt := q.IsEdns0()
	if opt == nil {
		return
	}
	kept := opt.Option[:0]
	for _, o := range opt.Option {
		if _, ok := o.(*dns.EDNS0_SUBNET); ok {
			continue
		}
		kept = append(kept, o)
	}
	opt.Option = kept
}
