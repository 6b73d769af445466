package owdns

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// maxWireQuerySize is the largest wire-format query the normaliser accepts,
// per spec.md §4.1.
const maxWireQuerySize = 4096

// NormalizerOptions configures trusted-proxy client IP extraction.
type NormalizerOptions struct {
	// TrustedProxyHeader is the header consulted for the real client IP
	// (e.g. "X-Forwarded-For") when the direct peer is a known proxy.
	// Empty disables header-based extraction entirely.
	TrustedProxyHeader string

	// TrustedProxies lists the peer addresses (no port) allowed to supply
	// TrustedProxyHeader. A request from any other peer has its header
	// ignored.
	TrustedProxies []string
}

func (o NormalizerOptions) isTrustedProxy(peer string) bool {
	for _, p := range o.TrustedProxies {
		if p == peer {
			return true
		}
	}
	return false
}

// Normalizer turns an incoming HTTP request for /dns-query or /resolve into
// a canonical internal *dns.Msg and the ClientInfo describing who asked, per
// spec.md §4.1.
type Normalizer struct {
	opt      NormalizerOptions
	listener string
}

// NewNormalizer returns a Normalizer for requests arriving on the named
// listener (used to populate ClientInfo.Listener).
func NewNormalizer(listener string, opt NormalizerOptions) *Normalizer {
	return &Normalizer{opt: opt, listener: listener}
}

// Wire parses an RFC 8484 request: POST with a raw "application/dns-message"
// body, or GET with a "?dns=<base64url>" parameter.
func (n *Normalizer) Wire(r *http.Request) (*dns.Msg, ClientInfo, error) {
	ci := n.clientInfo(r)

	var raw []byte
	switch r.Method {
	case http.MethodPost:
		ct := r.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "application/dns-message") {
			return nil, ci, newError(KindBadMedia, "unsupported content-type: "+ct)
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWireQuerySize+1))
		if err != nil {
			return nil, ci, wrapError(KindBadRequest, err, "read request body")
		}
		raw = body
	case http.MethodGet:
		enc := r.URL.Query().Get("dns")
		if enc == "" {
			return nil, ci, newError(KindBadRequest, "missing dns parameter")
		}
		body, err := base64.RawURLEncoding.DecodeString(enc)
		if err != nil {
			return nil, ci, wrapError(KindBadRequest, err, "decode dns parameter")
		}
		raw = body
	default:
		return nil, ci, newError(KindBadRequest, "unsupported method "+r.Method)
	}

	if len(raw) > maxWireQuerySize {
		return nil, ci, newError(KindBadRequest, "query payload exceeds maximum size")
	}

	q, err := canonicalizeWire(raw)
	if err != nil {
		return nil, ci, err
	}
	ci.DoHPath = r.URL.Path
	return q, ci, nil
}

// canonicalizeWire unpacks raw and enforces spec.md §4.1's wire-shape
// contract: exactly one question, a valid name, RD set.
func canonicalizeWire(raw []byte) (*dns.Msg, error) {
	if len(raw) < 12 {
		return nil, newError(KindBadRequest, "query shorter than dns header")
	}
	q := new(dns.Msg)
	if err := q.Unpack(raw); err != nil {
		return nil, wrapError(KindBadRequest, err, "unpack dns message")
	}
	if len(q.Question) != 1 {
		return nil, newError(KindBadRequest, "query must contain exactly one question")
	}
	if err := validateQuestionName(q.Question[0].Name); err != nil {
		return nil, err
	}
	q.RecursionDesired = true
	return q, nil
}

// JSON parses a Google/Cloudflare-style GET request against /resolve:
// "name", "type" (numeric or mnemonic, default A), and optional "do"/"cd"
// ("dnssec" is accepted as a synonym for "do").
func (n *Normalizer) JSON(r *http.Request) (*dns.Msg, ClientInfo, error) {
	ci := n.clientInfo(r)
	ci.DoHPath = r.URL.Path

	if r.Method != http.MethodGet {
		return nil, ci, newError(KindBadRequest, "unsupported method "+r.Method)
	}

	params := r.URL.Query()
	name := params.Get("name")
	if name == "" {
		return nil, ci, newError(KindBadRequest, "missing name parameter")
	}
	if err := validateQuestionName(dns.Fqdn(name)); err != nil {
		return nil, ci, err
	}

	qtype, err := parseQType(params.Get("type"))
	if err != nil {
		return nil, ci, err
	}

	q := new(dns.Msg)
	q.Id = 0
	q.RecursionDesired = true
	q.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: qtype, Qclass: dns.ClassINET}}

	wantDO := parseBoolParam(params.Get("do")) || parseBoolParam(params.Get("dnssec"))
	wantCD := parseBoolParam(params.Get("cd"))
	if wantDO || wantCD {
		q.SetEdns0(4096, wantDO)
		q.CheckingDisabled = wantCD
	}
	return q, ci, nil
}

func parseBoolParam(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// parseQType accepts either a mnemonic ("AAAA") or a numeric string ("28"),
// defaulting to A when s is empty.
func parseQType(s string) (uint16, error) {
	if s == "" {
		return dns.TypeA, nil
	}
	if t, ok := dns.StringToType[strings.ToUpper(s)]; ok {
		return t, nil
	}
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return uint16(n), nil
	}
	return 0, newError(KindBadRequest, "invalid type parameter: "+s)
}

// validateQuestionName rejects names longer than 255 octets or containing
// bytes outside the DNS presentation character set.
func validateQuestionName(name string) error {
	if len(name) > 255 {
		return newError(KindBadRequest, "query name exceeds 255 octets")
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return newError(KindBadRequest, "query name is not a valid domain name")
	}
	return nil
}

// clientInfo resolves the requesting client's address: the direct TCP peer,
// overridden by the left-most value of the configured trusted-proxy header
// when the peer is itself a known proxy, per spec.md §4.1.
func (n *Normalizer) clientInfo(r *http.Request) ClientInfo {
	ci := ClientInfo{Listener: n.listener}
	if r.TLS != nil {
		ci.TLSServerName = r.TLS.ServerName
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peerIP := net.ParseIP(host)
	ci.SourceIP = peerIP

	if n.opt.TrustedProxyHeader == "" || host == "" || !n.opt.isTrustedProxy(host) {
		return ci
	}
	header := r.Header.Get(n.opt.TrustedProxyHeader)
	if header == "" {
		return ci
	}
	first := strings.TrimSpace(strings.Split(header, ",")[0])
	if ip := net.ParseIP(first); ip != nil {
		ci.SourceIP = ip
	}
	return ci
}
