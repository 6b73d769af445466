package owdns

import (
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger. It defaults to logrus' standard logger at
// Info level; cmd/owdns-gatewayd reconfigures it (level, formatter, output)
// from the CLI flags before starting anything else.
var Log = logrus.StandardLogger()

func init() {
	Log.SetLevel(logrus.InfoLevel)
}

// logger builds a log entry pre-populated with the resolver id, query name
// and type, and client address. Every resolver implementation logs through
// this instead of calling Log directly, so fields stay consistent across the
// whole chain.
func logger(id string, q *dns.Msg, ci ClientInfo) *logrus.Entry {
	fields := logrus.Fields{"id": id, "client": ci.String()}
	if q != nil && len(q.Question) > 0 {
		fields["qname"] = q.Question[0].Name
		fields["qtype"] = dns.TypeToString[q.Question[0].Qtype]
	}
	return Log.WithFields(fields)
}
