package owdns

import (
	"fmt"

	syslog "github.com/RackSec/srslog"
	"github.com/miekg/dns"
)

// QueryLog wraps a resolver and emits one structured record per query to an
// optional syslog sink, adapting the teacher's syslog.go to the gateway's
// pipeline (SPEC_FULL.md §11). Every record also goes through the ordinary
// logrus pipeline, with or without a syslog sink, so query logging never
// requires a running syslog daemon.
type QueryLog struct {
	id       string
	resolver Resolver
	opt      QueryLogOptions
	writer   *syslog.Writer
}

var _ Resolver = &QueryLog{}

// QueryLogOptions configures the optional syslog sink.
type QueryLogOptions struct {
	// Network is "udp", "tcp", or "unix". Empty disables the syslog sink
	// entirely (all records go through logrus only).
	Network string
	Address string
	Tag     string
}

// NewQueryLog returns a QueryLog wrapping resolver. If opt.Network is set
// and the syslog dial fails, the failure is logged and the sink is left
// disabled rather than blocking startup, matching the teacher's NewSyslog.
func NewQueryLog(id string, resolver Resolver, opt QueryLogOptions) *QueryLog {
	ql := &QueryLog{id: id, resolver: resolver, opt: opt}
	if opt.Network == "" {
		return ql
	}
	w, err := syslog.Dial(opt.Network, opt.Address, syslog.LOG_INFO, opt.Tag)
	if err != nil {
		Log.WithField("id", id).WithError(err).Error("failed to initialize syslog query log sink, falling back to logrus only")
		return ql
	}
	ql.writer = w
	return ql
}

// Resolve logs the query and, once resolved, the chosen RCODE, then returns
// the answer from the wrapped resolver unmodified.
func (q *QueryLog) Resolve(msg *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	log := logger(q.id, msg, ci)
	log.Info("query received")
	q.emit(fmt.Sprintf("id=%s qid=%d type=query client=%s qtype=%s qname=%s", q.id, msg.Id, ci.String(), dns.TypeToString[qType(msg)], qName(msg)))

	answer, err := q.resolver.Resolve(msg, ci)
	if err != nil {
		log.WithError(err).Warn("query failed")
		q.emit(fmt.Sprintf("id=%s qid=%d type=answer qname=%s error=%q", q.id, msg.Id, qName(msg), err.Error()))
		return answer, err
	}

	log.WithField("rcode", rCode(answer)).WithField("answers", len(answer.Answer)).Info("query resolved")
	q.emit(fmt.Sprintf("id=%s qid=%d type=answer qname=%s rcode=%s answers=%d", q.id, msg.Id, qName(msg), rCode(answer), len(answer.Answer)))
	return answer, nil
}

func (q *QueryLog) emit(line string) {
	if q.writer == nil {
		return
	}
	if _, err := q.writer.Write([]byte(line)); err != nil {
		Log.WithField("id", q.id).WithError(err).Error("failed to send syslog query log record")
	}
}

func (q *QueryLog) String() string { return q.id }
