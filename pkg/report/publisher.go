package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Publisher posts reports to a grading server over HTTP/2.
type Publisher struct {
	url       string
	client    *http.Client
	transport *http2.Transport
	logger    *zap.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithTLSConfig sets the client TLS configuration, e.g. from LoadTLSConfig.
func WithTLSConfig(cfg *tls.Config) PublisherOption {
	return func(p *Publisher) { p.transport.TLSClientConfig = cfg }
}

// WithTimeout limits each publish request. Zero means no limit.
func WithTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.client.Timeout = d }
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a Publisher that posts to url, which must be https.
func NewPublisher(url string, opts ...PublisherOption) *Publisher {
	transport := &http2.Transport{}
	p := &Publisher{
		url:       url,
		client:    &http.Client{Transport: transport},
		transport: transport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish posts r as JSON. Any status other than 2xx is an error.
func (p *Publisher) Publish(ctx context.Context, r *Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish report %s: %w", r.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	p.logger.Info("report published",
		zap.String("id", r.ID),
		zap.String("url", p.url),
		zap.String("proto", resp.Proto),
		zap.Duration("latency", time.Since(start)))
	return nil
}

// Close releases idle connections.
func (p *Publisher) Close() {
	p.transport.CloseIdleConnections()
}

// LoadTLSConfig builds a client TLS configuration. certPath and keyPath
// select a client certificate for mutual TLS and must be given together.
// caPath, if set, replaces the system roots. All empty yields a config
// with system roots.
func LoadTLSConfig(certPath, keyPath, caPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if (certPath == "") != (keyPath == "") {
		return nil, fmt.Errorf("certPath and keyPath must be set together")
	}
	if certPath != "" {
		clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{clientCert}
	}

	if caPath != "" {
		caCert, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
