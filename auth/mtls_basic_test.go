package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeClientKeyPair(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "feed-refresh-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "certificate.pem")
	keyPath := filepath.Join(dir, "private_key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}

func TestBasicTokenSigner_SetsTokenAsUsername(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.test/accounts", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := (BasicTokenSigner{}).Sign(context.Background(), req, " tok_123 "); err != nil {
		t.Fatalf("sign: %v", err)
	}
	username, password, ok := req.BasicAuth()
	if !ok || username != "tok_123" || password != "" {
		t.Fatalf("unexpected basic auth: %q %q %v", username, password, ok)
	}
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("tok_123:"))
	if got := req.Header.Get("Authorization"); got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestBasicTokenSigner_RequiresToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.test/accounts", nil)
	if err := (BasicTokenSigner{}).Sign(context.Background(), req, "  "); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if err := (BasicTokenSigner{}).Sign(context.Background(), nil, "tok"); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestLoadClientTLS(t *testing.T) {
	certPath, keyPath := writeClientKeyPair(t)

	cfg, err := LoadClientTLS(MTLSConfig{CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("load client tls: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one client certificate, got %d", len(cfg.Certificates))
	}

	if _, err := LoadClientTLS(MTLSConfig{CertPath: certPath}); err == nil {
		t.Fatalf("expected error for missing key path")
	}
	if _, err := LoadClientTLS(MTLSConfig{CertPath: certPath, KeyPath: filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Fatalf("expected error for unreadable key")
	}
	if _, err := LoadClientTLS(MTLSConfig{CertPath: keyPath, KeyPath: keyPath}); err == nil {
		t.Fatalf("expected error for mismatched pem material")
	}
}

func TestNewMTLSClient_PresentsClientCertificate(t *testing.T) {
	certPath, keyPath := writeClientKeyPair(t)

	var presented int
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented = len(r.TLS.PeerCertificates)
		w.WriteHeader(http.StatusOK)
	}))
	server.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	server.StartTLS()
	defer server.Close()

	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())

	client, err := NewMTLSClient(MTLSConfig{CertPath: certPath, KeyPath: keyPath, RootCAs: roots, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new mtls client: %v", err)
	}
	res, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if presented != 1 {
		t.Fatalf("expected client certificate to be presented, got %d", presented)
	}
}
