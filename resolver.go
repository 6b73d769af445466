package owdns

import (
	"fmt"

	"github.com/miekg/dns"
)

// Resolver is an interface to resolve DNS queries. Implementations include
// upstream transports (udpClient, tcpClient, dotClient, dohClient), groups
// (Dispatcher, picking among several resolvers with a random or round-robin
// strategy), and the Router,
// Cache, and blackhole resolvers that sit in front of them.
type Resolver interface {
	Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error)
	fmt.Stringer
}
