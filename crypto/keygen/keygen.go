// Package keygen generates ECDSA key pairs and TLS certificates for nodes.
package keygen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/relab/hetpaxos/crypto"
)

// GenerateKey returns a new ECDSA P-256 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keygen: failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateRootCert generates a self-signed certificate to act as a CA for
// the TLS certificates of a deployment.
func GenerateRootCert(privateKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	sn, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          sn,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	caBytes, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(caBytes)
}

// GenerateTLSCert generates a TLS certificate for the node with the given
// short name, valid for the given hosts and signed by the parent CA. The
// node name is placed in the CommonName so that peers can authenticate the
// stream by certificate.
func GenerateTLSCert(name string, hosts []string, parent *x509.Certificate, signeeKey *ecdsa.PublicKey, signerKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	sn, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          sn,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	certBytes, err := x509.CreateCertificate(rand.Reader, tmpl, parent, signeeKey, signerKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(certBytes)
}

// WritePrivateKeyFile writes a private key to the given file in PEM form.
func WritePrivateKeyFile(key *ecdsa.PrivateKey, filePath string) error {
	pemString, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, []byte(pemString), 0o600)
}

// WritePublicKeyFile writes a public key to the given file in PEM form.
func WritePublicKeyFile(key *ecdsa.PublicKey, filePath string) error {
	pemString, err := crypto.MarshalPublicKey(key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, []byte(pemString), 0o644)
}

// WriteCertFile writes an x509 certificate to the given file in PEM form.
func WriteCertFile(cert *x509.Certificate, filePath string) error {
	b := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	return os.WriteFile(filePath, b, 0o644)
}

// ReadPrivateKeyFile reads a PEM-encoded private key from the given file.
func ReadPrivateKeyFile(filePath string) (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("keygen: failed to read private key file: %w", err)
	}
	return crypto.ParsePrivateKey(string(b))
}

// ReadPublicKeyFile reads a PEM-encoded public key from the given file.
func ReadPublicKeyFile(filePath string) (*ecdsa.PublicKey, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("keygen: failed to read public key file: %w", err)
	}
	return crypto.ParsePublicKey(string(b))
}
