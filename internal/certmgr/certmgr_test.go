package certmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/fleetlog"
)

func writeSelfSignedCert(t *testing.T, dir string, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "fleet-server-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}); err != nil {
		t.Fatalf("encode key: %v", err)
	}

	return certPath, keyPath
}

func TestNewLoadsCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, time.Now().Add(90*24*time.Hour))

	m, err := New(certPath, keyPath, fleetlog.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if days := m.ExpiresInDays(); days < 85 || days > 90 {
		t.Fatalf("expected ~90 days until expiry, got %d", days)
	}

	cfg := m.TLSConfig()
	cert, err := cfg.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatalf("expected a non-nil certificate")
	}
}

func TestNewRejectsMismatchedFiles(t *testing.T) {
	dir := t.TempDir()
	_, keyPath := writeSelfSignedCert(t, dir, time.Now().Add(time.Hour))
	otherCertPath, _ := writeSelfSignedCert(t, t.TempDir(), time.Now().Add(time.Hour))

	if _, err := New(otherCertPath, keyPath, fleetlog.NewDefault("test")); err == nil {
		t.Fatalf("expected error loading mismatched cert/key pair")
	}
}

func TestExpiredCertificateLoadsWithWarning(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, time.Now().Add(-time.Hour))

	m, err := New(certPath, keyPath, fleetlog.NewDefault("test"))
	if err != nil {
		t.Fatalf("expected expired cert to still load (warn, don't refuse): %v", err)
	}
	if days := m.ExpiresInDays(); days >= 0 {
		t.Fatalf("expected negative days-until-expiry, got %d", days)
	}
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, time.Now().Add(90*24*time.Hour))

	m, err := New(certPath, keyPath, fleetlog.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer m.Stop()

	// Overwrite with a cert expiring much sooner and confirm the watcher
	// eventually reloads it.
	writeSelfSignedCert(t, dir, time.Now().Add(24*time.Hour))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if days := m.ExpiresInDays(); days <= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected reload to pick up shorter-lived certificate within timeout")
}
