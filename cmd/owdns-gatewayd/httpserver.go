package main

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"
	"time"

	owdns "github.com/folbricht/owdns-gatewayd"
	"github.com/sirupsen/logrus"
)

// httpServerTimeout bounds read/write on the gateway's own listener,
// mirroring the teacher's dohServerTimeout in dohlistener.go.
const httpServerTimeout = 10 * time.Second

// gatewayServer mounts the DoH wire endpoint, the JSON /resolve endpoint,
// /health, and /metrics behind a single http.Server, adapting the teacher's
// DoHListener mux shape (dohlistener.go) to the narrower set of endpoints
// this gateway exposes.
type gatewayServer struct {
	httpServer *http.Server
	resolver   owdns.Resolver
	normalizer *owdns.Normalizer
	assembler  *owdns.Assembler
}

func newGatewayServer(cfg httpServerConfig, resolver owdns.Resolver) *gatewayServer {
	s := &gatewayServer{
		resolver: resolver,
		normalizer: owdns.NewNormalizer("http", owdns.NormalizerOptions{
			TrustedProxyHeader: cfg.TrustedProxyHeader,
			TrustedProxies:     cfg.TrustedProxies,
		}),
		assembler: owdns.NewAssembler(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/dns-query", s.dnsQueryHandler)
	mux.HandleFunc("/resolve", s.resolveHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", expvar.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  httpServerTimeout,
		WriteTimeout: httpServerTimeout,
	}
	return s
}

func (s *gatewayServer) start(cfg httpServerConfig) error {
	owdns.Log.WithFields(logrus.Fields{"addr": cfg.Listen}).Info("starting http listener")
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		return s.httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	}
	return s.httpServer.ListenAndServe()
}

func (s *gatewayServer) shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// dnsQueryHandler implements the RFC 8484 wire endpoint: GET or POST in,
// wire-format DNS out, with the HTTP status mapping from spec.md §7.
func (s *gatewayServer) dnsQueryHandler(w http.ResponseWriter, r *http.Request) {
	q, ci, err := s.normalizer.Wire(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	requestID := q.Id
	a, err := s.resolver.Resolve(q, ci)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.assembler.Wire(requestID, a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("content-type", "application/dns-message")
	_, _ = w.Write(out)
}

// resolveHandler implements the Google/Cloudflare-style JSON API.
func (s *gatewayServer) resolveHandler(w http.ResponseWriter, r *http.Request) {
	q, ci, err := s.normalizer.JSON(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	a, err := s.resolver.Resolve(q, ci)
	if err != nil {
		s.writeError(w, err)
		return
	}

	msg := s.assembler.JSON(q, a)
	w.Header().Set("content-type", "application/dns-json")
	_ = json.NewEncoder(w).Encode(msg)
}

func (s *gatewayServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeError maps a gateway error to the HTTP status spec.md §7 assigns its
// Kind. KindUpstreamRefused is never surfaced here: the upstream's own
// REFUSED/SERVFAIL rcode already made it into the answer body via a
// successful Resolve call. Upstream trouble reaches this path only as
// KindUpstreamFailure from a group whose resolvers all failed (transport
// failures or invalid answers); normalizer and routing errors arrive here too.
func (s *gatewayServer) writeError(w http.ResponseWriter, err error) {
	kind, ok := owdns.KindOf(err)
	status := http.StatusInternalServerError
	if ok {
		switch kind {
		case owdns.KindBadRequest:
			status = http.StatusBadRequest
		case owdns.KindBadMedia:
			status = http.StatusUnsupportedMediaType
		case owdns.KindRoutingError:
			status = http.StatusInternalServerError
		case owdns.KindUpstreamFailure:
			status = http.StatusBadGateway
		}
	}
	http.Error(w, err.Error(), status)
}
