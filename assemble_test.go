package owdns

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestAssemblerWireRestoresRequestID(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a := new(dns.Msg)
	a.SetReply(q)
	a.Id = 999 // internal coordinator ID, different from the caller's

	raw, err := Assembler{}.Wire(42, a)
	require.NoError(t, err)

	out := new(dns.Msg)
	require.NoError(t, out.Unpack(raw))
	require.Equal(t, uint16(42), out.Id)
}

func TestAssemblerJSONSchema(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.RecursionDesired = true

	a := new(dns.Msg)
	a.SetReply(q)
	a.RecursionAvailable = true
	a.AuthenticatedData = true
	a.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: []byte{1, 2, 3, 4}}}

	msg := Assembler{}.JSON(q, a)
	require.Equal(t, dns.RcodeSuccess, msg.Status)
	require.True(t, msg.RD)
	require.True(t, msg.RA)
	require.True(t, msg.AD)
	require.Len(t, msg.Question, 1)
	require.Equal(t, "example.com.", msg.Question[0].Name)
	require.Len(t, msg.Answer, 1)
	require.Equal(t, uint32(300), msg.Answer[0].TTL)
	require.Contains(t, msg.Answer[0].Data, "1.2.3.4")
}

func TestAssemblerJSONOmitsOPTFromAdditional(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a := new(dns.Msg)
	a.SetReply(q)
	a.SetEdns0(4096, false)

	msg := Assembler{}.JSON(q, a)
	require.Empty(t, msg.Additional)
}
