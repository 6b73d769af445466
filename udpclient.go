package owdns

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// udpBufferSize is the EDNS0-advertised receive buffer, per spec.md §4.4
// ("single datagram up to 4096 bytes").
const udpBufferSize = 4096

// UDPClient is a plain DNS-over-UDP resolver. On a truncated response it
// retries the same query over TCP against the same address, per spec.md
// §4.4 and §7 (the only upstream-side retry besides next-resolver-in-group).
type UDPClient struct {
	id       string
	endpoint string
	timeout  time.Duration
	tcp      *TCPClient
	metrics  *ListenerMetrics
}

var _ Resolver = &UDPClient{}

// NewUDPClient returns a DNS-over-UDP resolver for endpoint ("host:port").
func NewUDPClient(id, endpoint string, timeout time.Duration) *UDPClient {
	return &UDPClient{
		id:       id,
		endpoint: endpoint,
		timeout:  timeout,
		tcp:      NewTCPClient(id+"-tcp-fallback", endpoint, timeout),
		metrics:  NewListenerMetrics("client", id),
	}
}

func (c *UDPClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	q = q.Copy()
	stripPadding(q)
	if q.IsEdns0() == nil {
		q.SetEdns0(udpBufferSize, false)
	}
	logger(c.id, q, ci).WithField("protocol", "udp").Debug("querying upstream resolver")

	timeout := c.timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	client := &dns.Client{
		Net:     "udp",
		UDPSize: udpBufferSize,
		Timeout: timeout,
	}
	c.metrics.query.Add(1)
	a, _, err := client.Exchange(q, c.endpoint)
	if err != nil {
		c.metrics.err.Add("exchange", 1)
		return nil, err
	}
	c.metrics.response.Add(rCode(a), 1)

	if a.Truncated {
		logger(c.id, q, ci).Debug("udp answer truncated, retrying over tcp")
		return c.tcp.Resolve(q, ci)
	}
	return a, nil
}

func (c *UDPClient) String() string { return fmt.Sprintf("UDP(%s)", c.endpoint) }
