package http

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

var hello = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestPlainServerServesHandler(t *testing.T) {
	s, err := NewServer(H1Address("127.0.0.1:0"), Handle(hello))
	require.NoError(t, err)
	assert.False(t, s.secure())

	rec := httptest.NewRecorder()
	s.h1.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/mounts", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Alt-Svc"))
}

func TestSecureServerRedirects(t *testing.T) {
	s, err := NewServer(
		H1Address(":8080"),
		H2Address(":8443"),
		Certificate(selfSignedCert(t)),
		Handle(hello),
	)
	require.NoError(t, err)
	assert.True(t, s.secure())

	rec := httptest.NewRecorder()
	s.h1.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "http://example.com:8080/metrics?x=1", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://example.com:8443/metrics?x=1", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	s.h2.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, `h3=":8443"; ma=2592000`, rec.Header().Get("Alt-Svc"))
}

func TestNewServerRejectsMissingCertificateFile(t *testing.T) {
	_, err := NewServer(CertificateFile("does-not-exist.pem"), CertificateKeyFile("does-not-exist.key"))
	assert.Error(t, err)
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	s, err := NewServer(H1Address("127.0.0.1:0"), Handle(hello))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx)
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
