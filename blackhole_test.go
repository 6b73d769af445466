package owdns

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestBlackholeResolverNXDOMAIN(t *testing.T) {
	r := NewBlackholeResolver(blackholeGroup)

	q := new(dns.Msg)
	q.SetQuestion("blocked.example.com.", dns.TypeA)

	a, err := r.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, a.Rcode)
	require.Empty(t, a.Answer)
}
