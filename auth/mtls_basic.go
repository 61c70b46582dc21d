// Package auth builds the client-side credentials used against the accounts
// API: a client certificate for the TLS layer and the access token as the
// HTTP Basic username.
package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// NoPassword is the Basic auth password sent alongside an access token.
const NoPassword = ""

type BasicTokenSigner struct{}

func (BasicTokenSigner) Sign(_ context.Context, req *http.Request, accessToken string) error {
	if req == nil {
		return fmt.Errorf("auth: http request is required")
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return fmt.Errorf("auth: access token is required for basic signing")
	}
	req.Header.Set("Authorization", "Basic "+BasicCredential(token, NoPassword))
	return nil
}

func BasicCredential(username string, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

type MTLSConfig struct {
	CertPath string
	KeyPath  string
	// RootCAs overrides the system trust store; tests point it at an
	// httptest server certificate.
	RootCAs *x509.CertPool
	Timeout time.Duration
}

func (c MTLSConfig) normalized() MTLSConfig {
	return MTLSConfig{
		CertPath: strings.TrimSpace(c.CertPath),
		KeyPath:  strings.TrimSpace(c.KeyPath),
		RootCAs:  c.RootCAs,
		Timeout:  c.Timeout,
	}
}

// LoadClientTLS reads the PEM certificate and key pair into a client TLS
// configuration.
func LoadClientTLS(cfg MTLSConfig) (*tls.Config, error) {
	cfg = cfg.normalized()
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, fmt.Errorf("auth: mtls cert/key paths are required")
	}
	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("auth: read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("auth: read client key: %w", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse client key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
		RootCAs:      cfg.RootCAs,
	}, nil
}

// NewMTLSClient returns an http.Client presenting the configured client
// certificate. The client is safe to reuse across requests.
func NewMTLSClient(cfg MTLSConfig) (*http.Client, error) {
	tlsConfig, err := LoadClientTLS(cfg)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}
