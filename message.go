package owdns

import (
	"strconv"

	"github.com/miekg/dns"
)

// rCode returns the textual RCODE of a, or "nil" if a is nil. Used as an
// expvar.Map key for per-resolver response-code counters.
func rCode(a *dns.Msg) string {
	if a == nil {
		return "nil"
	}
	if s, ok := dns.RcodeToString[a.Rcode]; ok {
		return s
	}
	return "RCODE" + strconv.Itoa(a.Rcode)
}

// paddingBlockSize is the RFC 8467 recommended block size for EDNS0 padding
// on encrypted transports (DoT/DoH).
const paddingBlockSize = 128

// padQuery adds an EDNS0 Padding option to q so its wire size is a multiple
// of paddingBlockSize, obscuring the query length on DoT/DoH transports.
// No-op if q already carries padding.
func padQuery(q *dns.Msg) {
	opt := q.IsEdns0()
	if opt == nil {
		q.SetEdns0(4096, false)
		opt = q.IsEdns0()
	}
	for _, o := range opt.Option {
		if _, ok := o.(*dns.EDNS0_PADDING); ok {
			return
		}
	}
	packed, err := q.Pack()
	if err != nil {
		return
	}
	// The padding option adds its own 4-byte code/length header.
	pad := (paddingBlockSize - (len(packed)+4)%paddingBlockSize) % paddingBlockSize
	opt.Option = append(opt.Option, &dns.EDNS0_PADDING{Padding: make([]byte, pad)})
}

// stripPadding removes any EDNS0 Padding option before a query is sent over
// an unencrypted transport, where padding serves no purpose and only wastes
// bytes.
func stripPadding(q *dns.Msg) {
	opt := q.IsEdns0()
	if opt == nil {
		return
	}
	kept := opt.Option[:0]
	for _, o := range opt.Option {
		if _, ok := o.(*dns.EDNS0_PADDING); ok {
			continue
		}
		kept = append(kept, o)
	}
	opt.Option = kept
}

// qName returns the query name from a DNS query, or "" if there's no question.
func qName(q *dns.Msg) string {
	if q == nil || len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// qType returns the query type from a DNS query, or 0 if there's no question.
func qType(q *dns.Msg) uint16 {
	if q == nil || len(q.Question) == 0 {
		return 0
	}
	return q.Question[0].Qtype
}

// nxdomain builds an NXDOMAIN answer for a query.
func nxdomain(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeNameError)
	return a
}

// servfail builds a SERVFAIL answer for a query.
func servfail(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeServerFailure)
	return a
}

// refused builds a REFUSED answer for a query.
func refused(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeRefused)
	return a
}
