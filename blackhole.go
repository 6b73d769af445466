package owdns

import (
	"github.com/miekg/dns"
)

// BlackholeResolver implements the reserved __blackhole__ upstream group: it
// synthesizes an NXDOMAIN for every query without any upstream I/O, per
// spec.md §4.3/§4.6.
type BlackholeResolver struct {
	id string
}

var _ Resolver = &BlackholeResolver{}

// NewBlackholeResolver returns a blackhole resolver.
func NewBlackholeResolver(id string) *BlackholeResolver {
	return &BlackholeResolver{id: id}
}

func (r *BlackholeResolver) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	return nxdomain(q), nil
}

func (r *BlackholeResolver) String() string {
	return r.id
}
