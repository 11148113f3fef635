package listener

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/gumdrop/gumdrop/pkg/errors"
)

// loadServerCertificate reads cfg.KeystoreFile and returns the tls.Certificate
// it contains. Two formats are accepted, detected by content rather than
// extension (mirrors the teacher's loadClientCertificate, which picks
// between PEM-bytes-provided-directly and PEM-file-on-disk):
//
//   - PEM: a file containing both a CERTIFICATE block and a PRIVATE KEY
//     block (KeystorePass is ignored).
//   - PKCS#12: a binary keystore, decrypted with KeystorePass.
func loadServerCertificate(cfg Config) (tls.Certificate, error) {
	raw, err := os.ReadFile(cfg.KeystoreFile)
	if err != nil {
		return tls.Certificate{}, errors.NewIOError("reading keystoreFile", err)
	}

	if block, _ := pem.Decode(raw); block != nil {
		return loadPEMKeystore(raw)
	}
	return loadPKCS12Keystore(raw, cfg.KeystorePass)
}

func loadPEMKeystore(raw []byte) (tls.Certificate, error) {
	var certPEM, keyPEM []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		default:
			if len(block.Bytes) > 0 {
				keyPEM = pem.EncodeToMemory(block)
			}
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errors.NewValidationError("parsing PEM keystore: " + err.Error())
	}
	return cert, nil
}

func loadPKCS12Keystore(raw []byte, password string) (tls.Certificate, error) {
	key, leaf, chain, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		return tls.Certificate{}, errors.NewValidationError("decoding PKCS#12 keystore: " + err.Error())
	}
	cert := tls.Certificate{
		Certificate: make([][]byte, 0, 1+len(chain)),
		PrivateKey:  key,
		Leaf:        leaf,
	}
	cert.Certificate = append(cert.Certificate, leaf.Raw)
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return cert, nil
}

// loadClientCAs builds a tls.Config carrying only a ClientCAs pool parsed
// from the keystore's certificate chain, for use with ClientAuthWant/Need
// when the keystore also doubles as the trust anchor for client certs.
func loadClientCAs(cert tls.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	for _, der := range cert.Certificate {
		if leaf, err := x509.ParseCertificate(der); err == nil {
			pool.AddCert(leaf)
		}
	}
	return &tls.Config{ClientCAs: pool}
}
