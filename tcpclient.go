package owdns

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// defaultQueryTimeout bounds a single resolver attempt when no group-level
// query_timeout narrows it further.
const defaultQueryTimeout = 2 * time.Second

// idleTimeout tears down an upstream connection if nothing has been
// received for this long, per spec.md §4.4's "idle connections closed
// after a bounded interval".
const idleTimeout = 30 * time.Second

// dnsDialer abstracts how a pipeline opens its underlying connection, so
// the same multiplexing engine serves plain TCP (tcpClient) and
// DNS-over-TLS (dotClient) alike.
type dnsDialer interface {
	Dial(address string) (*dns.Conn, error)
}

type netDialer struct{ net string }

func (d netDialer) Dial(address string) (*dns.Conn, error) {
	return dns.Dial(d.net, address)
}

// pipeline multiplexes queries over a single on-demand connection, matching
// out-of-order responses back to the request that sent them, and
// reconnecting transparently when the connection drops or idles out.
type pipeline struct {
	id       string
	addr     string
	dialer   dnsDialer
	requests chan *pipelineRequest
	metrics  *ListenerMetrics
}

func newPipeline(id, addr string, dialer dnsDialer) *pipeline {
	p := &pipeline{
		id:       id,
		addr:     addr,
		dialer:   dialer,
		requests: make(chan *pipelineRequest),
		metrics:  NewListenerMetrics("client", id),
	}
	go p.run()
	return p
}

// resolve sends q over the pipeline's connection and waits for the matching
// answer, or for timeout to elapse.
func (p *pipeline) resolve(q *dns.Msg, timeout time.Duration) (*dns.Msg, error) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	r := newPipelineRequest(q)
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case p.requests <- r:
	case <-t.C:
		p.metrics.err.Add("query_timeout", 1)
		return nil, QueryTimeoutError{q}
	}
	select {
	case <-r.done:
	case <-t.C:
		p.metrics.err.Add("query_timeout", 1)
		return nil, QueryTimeoutError{q}
	}
	return r.result()
}

// run is the connection-management loop: it lazily dials on the first
// request and pumps writer/reader goroutines until the connection drops,
// idles out, or fails, then waits for the next request to reconnect.
func (p *pipeline) run() {
	for req := range p.requests {
		conn, err := p.dialer.Dial(p.addr)
		if err != nil {
			p.metrics.err.Add("dial", 1)
			Log.WithField("id", p.id).WithField("addr", p.addr).WithError(err).Debug("failed to open upstream connection")
			req.markDone(nil, err)
			continue
		}

		var wg sync.WaitGroup
		done := make(chan struct{})
		inFlight := &inFlightQueue{}
		wg.Add(2)

		go func(r *pipelineRequest) { p.requests <- r }(req)

		go p.writeLoop(conn, inFlight, done, &wg)
		go p.readLoop(conn, inFlight, done, &wg)

		wg.Wait()
	}
}

func (p *pipeline) writeLoop(conn *dns.Conn, inFlight *inFlightQueue, done chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case req := <-p.requests:
			query := inFlight.add(req)
			p.metrics.query.Add(1)
			p.metrics.maxQueueLen.Set(int64(inFlight.maxQueueLen()))
			if err := conn.WriteMsg(query); err != nil {
				p.metrics.err.Add("write", 1)
				req.markDone(nil, err)
				inFlight.get(query.Id)
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (p *pipeline) readLoop(conn *dns.Conn, inFlight *inFlightQueue, done chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		a, err := conn.ReadMsg()
		if err != nil {
			if err == io.EOF {
				p.metrics.err.Add("eof", 1)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				p.metrics.err.Add("idle_timeout", 1)
			} else {
				p.metrics.err.Add("read", 1)
			}
			close(done)
			return
		}
		req := inFlight.get(a.Id)
		if req == nil {
			p.metrics.err.Add("unexpected_answer", 1)
			continue
		}
		p.metrics.response.Add(rCode(a), 1)
		req.markDone(a, nil)
	}
}

// pipelineRequest is a single in-flight query: the request as sent, and a
// channel closed once an answer or error is available.
type pipelineRequest struct {
	q, a *dns.Msg
	err  error
	done chan struct{}
}

func newPipelineRequest(q *dns.Msg) *pipelineRequest {
	return &pipelineRequest{q: q, done: make(chan struct{})}
}

func (r *pipelineRequest) markDone(a *dns.Msg, err error) {
	if a != nil {
		a.Id = r.q.Id
	}
	r.a, r.err = a, err
	close(r.done)
}

func (r *pipelineRequest) result() (*dns.Msg, error) {
	<-r.done
	if r.err == nil && r.a != nil && len(r.a.Question) > 0 && len(r.q.Question) > 0 {
		q, a := r.q.Question[0], r.a.Question[0]
		if a.Name != q.Name || a.Qclass != q.Qclass || a.Qtype != q.Qtype {
			return nil, fmt.Errorf("expected answer for %s, got %s", q.String(), a.String())
		}
	}
	return r.a, r.err
}

// inFlightQueue matches asynchronously-received answers back to the
// request that sent them, rewriting each query's ID to a connection-local
// counter since concurrent callers may reuse the same original ID.
type inFlightQueue struct {
	mu       sync.Mutex
	requests map[uint16]*pipelineRequest
	counter  uint16
	maxLen   int
}

func (q *inFlightQueue) add(r *pipelineRequest) *dns.Msg {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.requests == nil {
		q.requests = make(map[uint16]*pipelineRequest)
	}
	q.counter++
	q.requests[q.counter] = r
	if len(q.requests) > q.maxLen {
		q.maxLen = len(q.requests)
	}
	query := r.q.Copy()
	query.Id = q.counter
	return query
}

// maxQueueLen reports the largest number of requests this queue has ever
// held in flight at once, feeding ListenerMetrics.maxQueueLen.
func (q *inFlightQueue) maxQueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxLen
}

func (q *inFlightQueue) get(id uint16) *pipelineRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.requests[id]
	if !ok {
		return nil
	}
	delete(q.requests, id)
	return r
}

// TCPClient is a length-prefixed DNS-over-TCP resolver with connection
// reuse: concurrent queries are pipelined over one connection where
// possible rather than opening one per query.
type TCPClient struct {
	id       string
	endpoint string
	timeout  time.Duration
	pipe     *pipeline
}

var _ Resolver = &TCPClient{}

// NewTCPClient returns a DNS-over-TCP resolver for endpoint ("host:port").
func NewTCPClient(id, endpoint string, timeout time.Duration) *TCPClient {
	return &TCPClient{
		id:       id,
		endpoint: endpoint,
		timeout:  timeout,
		pipe:     newPipeline(id, endpoint, netDialer{net: "tcp"}),
	}
}

func (c *TCPClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	q = q.Copy()
	stripPadding(q)
	logger(c.id, q, ci).WithField("protocol", "tcp").Debug("querying upstream resolver")
	return c.pipe.resolve(q, c.timeout)
}

func (c *TCPClient) String() string { return fmt.Sprintf("TCP(%s)", c.endpoint) }
