package owdns

import "net"

// ClientInfo carries details about the transport a query arrived on. It's
// threaded through the whole Resolver chain so routing rules, ECS policy,
// and query logging can all see who asked and how.
type ClientInfo struct {
	// SourceIP is the address of the client, after trusted-proxy unwrapping
	// (a forwarding header such as X-Forwarded-For, honoured only from a
	// known proxy) has been applied by the listener.
	SourceIP net.IP

	// DoHPath is the HTTP request path the query arrived on, e.g. "/dns-query"
	// or "/resolve". Empty for non-HTTP transports.
	DoHPath string

	// Listener identifies which configured listener accepted the query, e.g.
	// "https-main".
	Listener string

	// TLSServerName is the SNI value presented by the client, if any.
	TLSServerName string
}

func (ci ClientInfo) String() string {
	if ci.SourceIP == nil {
		return "unknown"
	}
	return ci.SourceIP.String()
}
