package owdns

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DoTClientOptions configures a DNS-over-TLS resolver.
type DoTClientOptions struct {
	// Insecure disables certificate verification. Never exposed on the
	// gateway's own listener side (spec.md §4.4); only meaningful for a
	// client dialing a private/test upstream.
	Insecure bool

	// TLS carries optional CA/client-certificate configuration, applied on
	// top of the mandatory hostname verification this client sets up from
	// the resolver address.
	TLS ClientTLSOptions

	QueryTimeout time.Duration
}

// DoTClient is a DNS-over-TLS resolver. The resolver address is
// "hostname@ip:port" per spec.md §3: hostname is verified against the
// server's certificate, ip:port is what's actually dialed.
type DoTClient struct {
	id       string
	endpoint string
	pipe     *pipeline
	timeout  time.Duration
}

var _ Resolver = &DoTClient{}

// NewDoTClient returns a DNS-over-TLS resolver. endpoint must be of the
// form "hostname@ip:port".
func NewDoTClient(id, endpoint string, opt DoTClientOptions) (*DoTClient, error) {
	hostname, addr, err := splitDoTEndpoint(endpoint)
	if err != nil {
		return nil, wrapError(KindRoutingError, err, "parse dot endpoint")
	}
	if err := validEndpoint(addr); err != nil {
		return nil, wrapError(KindRoutingError, err, "validate dot endpoint")
	}

	tlsConfig, err := opt.TLS.Config()
	if err != nil {
		return nil, wrapError(KindRoutingError, err, "build dot tls config")
	}
	tlsConfig.ServerName = hostname
	tlsConfig.InsecureSkipVerify = opt.Insecure

	dialer := tlsDialer{config: tlsConfig}
	return &DoTClient{
		id:       id,
		endpoint: endpoint,
		pipe:     newPipeline(id, addr, dialer),
		timeout:  opt.QueryTimeout,
	}, nil
}

// splitDoTEndpoint parses "hostname@ip:port" into its hostname and
// "ip:port" parts.
func splitDoTEndpoint(endpoint string) (hostname, addr string, err error) {
	i := strings.LastIndex(endpoint, "@")
	if i < 0 {
		return "", "", fmt.Errorf("dot endpoint %q missing 'hostname@' prefix", endpoint)
	}
	hostname, addr = endpoint[:i], endpoint[i+1:]
	if hostname == "" || addr == "" {
		return "", "", fmt.Errorf("dot endpoint %q malformed", endpoint)
	}
	return hostname, addr, nil
}

func (c *DoTClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	q = q.Copy()
	padQuery(q)
	logger(c.id, q, ci).WithField("protocol", "dot").Debug("querying upstream resolver")
	return c.pipe.resolve(q, c.timeout)
}

func (c *DoTClient) String() string { return fmt.Sprintf("DoT(%s)", c.endpoint) }

// tlsDialer dials a DNS-over-TLS connection for use by a pipeline.
type tlsDialer struct {
	config *tls.Config
}

func (d tlsDialer) Dial(address string) (*dns.Conn, error) {
	return dns.DialWithTLS("tcp-tls", address, d.config)
}
