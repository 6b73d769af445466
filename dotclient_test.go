package owdns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// selfSignedCert generates an in-memory self-signed certificate for
// hostname, writing its PEM-encoded CA bytes to dir/ca.pem so a
// ClientTLSOptions.CAFile can trust it.
func selfSignedCert(t *testing.T, dir, hostname string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.pem"), certPEM, 0600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return cert
}

func startTestDoTServer(t *testing.T, cert tls.Certificate) (addr string, shutdown func()) {
	t.Helper()
	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		a := new(dns.Msg)
		a.SetReply(r)
		a.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.IP{172, 16, 0, 1},
		}}
		_ = w.WriteMsg(a)
	})

	srv := &dns.Server{Listener: l, Handler: mux}
	ready := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(ready) }
	go srv.ActivateAndServe()
	<-ready

	return l.Addr().String(), func() { _ = srv.Shutdown() }
}

func TestDoTClientVerifiesHostnameAndResolves(t *testing.T) {
	dir := t.TempDir()
	cert := selfSignedCert(t, dir, "dot.internal.test")
	addr, shutdown := startTestDoTServer(t, cert)
	defer shutdown()

	c, err := NewDoTClient("test-dot", "dot.internal.test@"+addr, DoTClientOptions{
		TLS:          ClientTLSOptions{CAFile: filepath.Join(dir, "ca.pem")},
		QueryTimeout: time.Second,
	})
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := c.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, "172.16.0.1", a.Answer[0].(*dns.A).A.String())
}

func TestDoTClientRejectsHostnameMismatch(t *testing.T) {
	dir := t.TempDir()
	cert := selfSignedCert(t, dir, "dot.internal.test")
	addr, shutdown := startTestDoTServer(t, cert)
	defer shutdown()

	c, err := NewDoTClient("test-dot-mismatch", "wrong.hostname@"+addr, DoTClientOptions{
		TLS:          ClientTLSOptions{CAFile: filepath.Join(dir, "ca.pem")},
		QueryTimeout: time.Second,
	})
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err = c.Resolve(q, ClientInfo{})
	require.Error(t, err)
}

func TestSplitDoTEndpoint(t *testing.T) {
	hostname, addr, err := splitDoTEndpoint("dns.example@1.2.3.4:853")
	require.NoError(t, err)
	require.Equal(t, "dns.example", hostname)
	require.Equal(t, "1.2.3.4:853", addr)

	_, _, err = splitDoTEndpoint("missing-at-sign:853")
	require.Error(t, err)
}
