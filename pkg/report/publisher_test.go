package report

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// newServer starts an HTTP/2 TLS server and returns a client TLS config
// that trusts it.
func newServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *tls.Config) {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	tr, ok := srv.Client().Transport.(*http.Transport)
	require.True(t, ok)
	return srv, tr.TLSClientConfig.Clone()
}

func TestPublish(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		got   Report
		proto int
	)
	srv, tlsCfg := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		proto = r.ProtoMajor
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})
	defer srv.Close()

	p := NewPublisher(srv.URL+"/reports",
		WithTLSConfig(tlsCfg),
		WithTimeout(5*time.Second),
		WithPublisherLogger(zaptest.NewLogger(t)))
	defer p.Close()

	want := sampleReport()
	require.NoError(t, p.Publish(context.Background(), want))
	assert.Equal(t, 2, proto)
	if diff := cmp.Diff(want, &got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("published report mismatch (-want +got):\n%s", diff)
	}
}

func TestPublish_ServerError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, tlsCfg := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exercise closed", http.StatusConflict)
	})
	defer srv.Close()

	p := NewPublisher(srv.URL, WithTLSConfig(tlsCfg))
	defer p.Close()

	err := p.Publish(context.Background(), sampleReport())
	assert.EqualError(t, err, "HTTP 409: exercise closed")
}

func TestPublish_Canceled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var called bool
	srv, tlsCfg := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	p := NewPublisher(srv.URL, WithTLSConfig(tlsCfg))
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, sampleReport())
	assert.ErrorContains(t, err, "failed to publish report")
	assert.False(t, called)
}

func TestPublish_UntrustedServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	p := NewPublisher(srv.URL, WithTLSConfig(&tls.Config{RootCAs: x509.NewCertPool()}))
	defer p.Close()

	assert.Error(t, p.Publish(context.Background(), sampleReport()))
}

// writeCert writes a self-signed certificate and its key as PEM files.
func writeCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gradeprobe test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "client.cert.pem")
	keyPath = filepath.Join(dir, "client.key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestLoadTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCert(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))

	t.Run("empty", func(t *testing.T) {
		cfg, err := LoadTLSConfig("", "", "")
		require.NoError(t, err)
		assert.Empty(t, cfg.Certificates)
		assert.Nil(t, cfg.RootCAs)
	})

	t.Run("mutual TLS", func(t *testing.T) {
		cfg, err := LoadTLSConfig(certPath, keyPath, certPath)
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
		assert.NotNil(t, cfg.RootCAs)
	})

	tests := []struct {
		name           string
		cert, key, ca  string
		wantErrContain string
	}{
		{"cert without key", certPath, "", "", "set together"},
		{"missing cert file", filepath.Join(dir, "nope.pem"), keyPath, "", "failed to load client certificate"},
		{"missing CA file", "", "", filepath.Join(dir, "nope.pem"), "failed to read CA certificate"},
		{"unparsable CA", "", "", garbage, "failed to parse CA certificate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTLSConfig(tt.cert, tt.key, tt.ca)
			assert.ErrorContains(t, err, tt.wantErrContain)
		})
	}
}
