package owdns

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

// DoHClientOptions configures a DNS-over-HTTPS resolver.
type DoHClientOptions struct {
	// Method is "GET" or "POST". Defaults to POST.
	Method string

	// Client is the shared pooled HTTP client. Per spec.md §4.4/§5 the same
	// client serves every DoH upstream and the routing engine's URL-rule
	// fetches; callers should pass the one client instance they built for
	// the whole gateway rather than letting each resolver make its own.
	Client *http.Client

	QueryTimeout time.Duration
}

// NewSharedHTTPClient builds the pooled, HTTP/2-preferred client shared by
// every DoH resolver and URL-backed routing rule, per spec.md §4.4/§5.
func NewSharedHTTPClient(tlsConfig *tls.Config, maxIdleConns int, idleTimeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       tlsConfig,
		DisableCompression:    true,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConns,
		IdleConnTimeout:       idleTimeout,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if tr.TLSClientConfig != nil {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, err
		}
	}
	return &http.Client{Transport: tr, Timeout: 120 * time.Second}, nil
}

// DoHClient is a DNS-over-HTTPS resolver (RFC 8484) with a URI-template
// endpoint so GET-mode requests can substitute the "dns" query parameter.
type DoHClient struct {
	id       string
	endpoint string
	template *uritemplates.UriTemplate
	opt      DoHClientOptions
	metrics  *ListenerMetrics
}

var _ Resolver = &DoHClient{}

// NewDoHClient returns a DNS-over-HTTPS resolver. endpoint is an absolute
// HTTPS URL (optionally a URI template for GET mode).
func NewDoHClient(id, endpoint string, opt DoHClientOptions) (*DoHClient, error) {
	template, err := uritemplates.Parse(endpoint)
	if err != nil {
		return nil, wrapError(KindRoutingError, err, "parse doh endpoint template")
	}
	if opt.Method == "" {
		opt.Method = http.MethodPost
	}
	if opt.Method != http.MethodPost && opt.Method != http.MethodGet {
		return nil, newError(KindRoutingError, fmt.Sprintf("unsupported doh method %q", opt.Method))
	}
	if opt.Client == nil {
		opt.Client = http.DefaultClient
	}
	if opt.QueryTimeout == 0 {
		opt.QueryTimeout = defaultQueryTimeout
	}
	return &DoHClient{
		id:       id,
		endpoint: endpoint,
		template: template,
		opt:      opt,
		metrics:  NewListenerMetrics("client", id),
	}, nil
}

func (d *DoHClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	q = q.Copy()
	padQuery(q)
	logger(d.id, q, ci).WithField("protocol", "doh").WithField("method", d.opt.Method).Debug("querying upstream resolver")

	msg, err := q.Pack()
	if err != nil {
		d.metrics.err.Add("pack", 1)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opt.QueryTimeout)
	defer cancel()

	req, err := d.buildRequest(ctx, msg)
	if err != nil {
		d.metrics.err.Add("build_request", 1)
		return nil, err
	}

	d.metrics.query.Add(1)
	resp, err := d.opt.Client.Do(req)
	if err != nil {
		d.metrics.err.Add("do", 1)
		return nil, err
	}
	defer resp.Body.Close()

	return d.responseFromHTTP(resp)
}

func (d *DoHClient) buildRequest(ctx context.Context, msg []byte) (*http.Request, error) {
	if d.opt.Method == http.MethodGet {
		return d.buildGetRequest(ctx, msg)
	}
	return d.buildPostRequest(ctx, msg)
}

func (d *DoHClient) buildPostRequest(ctx context.Context, msg []byte) (*http.Request, error) {
	u, err := d.template.Expand(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(msg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/dns-message")
	req.Header.Set("content-type", "application/dns-message")
	return req, nil
}

func (d *DoHClient) buildGetRequest(ctx context.Context, msg []byte) (*http.Request, error) {
	b64 := base64.RawURLEncoding.EncodeToString(msg)
	u, err := d.template.Expand(map[string]interface{}{"dns": b64})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/dns-message")
	return req, nil
}

func (d *DoHClient) responseFromHTTP(resp *http.Response) (*dns.Msg, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.metrics.err.Add(fmt.Sprintf("http_%d", resp.StatusCode), 1)
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, d.endpoint)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		d.metrics.err.Add("read", 1)
		return nil, err
	}
	a := new(dns.Msg)
	if err := a.Unpack(body); err != nil {
		d.metrics.err.Add("unpack", 1)
		return nil, err
	}
	d.metrics.response.Add(rCode(a), 1)
	return a, nil
}

func (d *DoHClient) String() string { return fmt.Sprintf("DoH(%s)", d.endpoint) }
