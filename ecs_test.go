package owdns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func newQueryWithOptionalECS(withECS bool) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	if withECS {
		q.SetEdns0(4096, false)
		q.IsEdns0().Option = append(q.IsEdns0().Option, &dns.EDNS0_SUBNET{
			Code: dns.EDNS0SUBNET, Family: 1, SourceNetmask: 32, Address: net.IP{8, 8, 8, 8},
		})
	}
	return q
}

func TestECSStripRemovesOption(t *testing.T) {
	q := newQueryWithOptionalECS(true)
	policy := ECSPolicy{Kind: ECSStrip}
	sent := policy.Apply(q, ClientInfo{SourceIP: net.IP{1, 2, 3, 4}})
	require.False(t, sent)
	require.False(t, hasECS(q))
}

func TestECSForwardPassesIncomingThrough(t *testing.T) {
	q := newQueryWithOptionalECS(true)
	policy := ECSPolicy{Kind: ECSForward}
	sent := policy.Apply(q, ClientInfo{SourceIP: net.IP{1, 2, 3, 4}})
	require.True(t, sent)
	opt := q.IsEdns0()
	ecs := opt.Option[0].(*dns.EDNS0_SUBNET)
	require.Equal(t, "8.8.8.8", ecs.Address.String())
}

func TestECSForwardSynthesizesFromClientIP(t *testing.T) {
	q := newQueryWithOptionalECS(false)
	policy := ECSPolicy{Kind: ECSForward}
	sent := policy.Apply(q, ClientInfo{SourceIP: net.IPv4(203, 0, 113, 7)})
	require.True(t, sent)
	ecs := q.IsEdns0().Option[0].(*dns.EDNS0_SUBNET)
	require.Equal(t, uint8(32), ecs.SourceNetmask)
	require.Equal(t, "203.0.113.7", ecs.Address.String())
}

func TestECSAnonymizeMasksAndClearsHostBits(t *testing.T) {
	q := newQueryWithOptionalECS(false)
	policy := ECSPolicy{Kind: ECSAnonymize, IPv4PrefixLength: 24}
	sent := policy.Apply(q, ClientInfo{SourceIP: net.IPv4(203, 0, 113, 77)})
	require.True(t, sent)
	ecs := q.IsEdns0().Option[0].(*dns.EDNS0_SUBNET)
	require.Equal(t, uint8(24), ecs.SourceNetmask)
	require.Equal(t, "203.0.113.0", ecs.Address.String())
}

func TestECSAnonymizeDefaultPrefixLengths(t *testing.T) {
	policy := ECSPolicy{Kind: ECSAnonymize}
	require.Equal(t, uint8(24), policy.ipv4Prefix())
	require.Equal(t, uint8(48), policy.ipv6Prefix())
}

func TestECSAnonymizeWithoutClientIPStrips(t *testing.T) {
	q := newQueryWithOptionalECS(true)
	policy := ECSPolicy{Kind: ECSAnonymize}
	sent := policy.Apply(q, ClientInfo{})
	require.False(t, sent)
	require.False(t, hasECS(q))
}
