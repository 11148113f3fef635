package listener

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"
)

func writeSelfSignedPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gumdropd-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}

	var buf bytes.Buffer
	pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	pem.Encode(&buf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	f, err := os.CreateTemp(t.TempDir(), "keystore-*.pem")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoadServerCertificateAcceptsPEM(t *testing.T) {
	path := writeSelfSignedPEM(t)
	cfg := Config{KeystoreFile: path}

	cert, err := loadServerCertificate(cfg)
	if err != nil {
		t.Fatalf("loadServerCertificate: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("expected at least one certificate in the chain")
	}
	if cert.PrivateKey == nil {
		t.Fatal("expected a private key")
	}
}

func TestLoadServerCertificateMissingFile(t *testing.T) {
	cfg := Config{KeystoreFile: "/nonexistent/path/keystore.pem"}
	if _, err := loadServerCertificate(cfg); err == nil {
		t.Fatal("expected an error for a missing keystore file")
	}
}

func TestLoadServerCertificateRejectsGarbage(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "garbage-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Write([]byte("not a certificate"))
	f.Close()

	cfg := Config{KeystoreFile: f.Name()}
	if _, err := loadServerCertificate(cfg); err == nil {
		t.Fatal("expected an error decoding a garbage keystore")
	}
}

func TestLoadClientCAsBuildsPoolFromCertChain(t *testing.T) {
	path := writeSelfSignedPEM(t)
	cfg := Config{KeystoreFile: path}
	cert, err := loadServerCertificate(cfg)
	if err != nil {
		t.Fatalf("loadServerCertificate: %v", err)
	}

	tlsCfg := loadClientCAs(cert)
	if tlsCfg.ClientCAs == nil {
		t.Fatal("expected a non-nil ClientCAs pool")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	opts := x509.VerifyOptions{Roots: tlsCfg.ClientCAs, CurrentTime: leaf.NotBefore.Add(time.Minute)}
	if _, err := leaf.Verify(opts); err != nil {
		t.Fatalf("expected the self-signed leaf to verify against its own pool: %v", err)
	}
}
