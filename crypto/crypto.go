// Package crypto implements the signature service: signing and verifying
// attestation sets using ECDSA over the P-256 curve.
//
// Signatures are computed over the canonical wire encoding of a hash set
// (sorted, deduplicated), so two acceptors attesting the same set produce
// signatures over identical bytes regardless of insertion order.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
	"github.com/relab/hetpaxos/logging"
)

// PEM block types used for keys in config files and on disk.
const (
	PrivateKeyFileType = "EC PRIVATE KEY"
	PublicKeyFileType  = "PUBLIC KEY"
)

// HashValue returns the 256-bit identifier of a proposed value.
func HashValue(value []byte) (h hetpaxos.Hash) {
	return hetpaxos.Hash(sha3.Sum256(value))
}

// ParsePrivateKey parses a PEM-encoded ECDSA private key.
func ParsePrivateKey(pemString string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in private key")
	}
	if block.Type != PrivateKeyFileType {
		return nil, fmt.Errorf("crypto: unexpected PEM block type %q", block.Type)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to parse private key: %w", err)
	}
	return key, nil
}

// ParsePublicKey parses a PEM-encoded ECDSA public key.
func ParsePublicKey(pemString string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in public key")
	}
	if block.Type != PublicKeyFileType {
		return nil, fmt.Errorf("crypto: unexpected PEM block type %q", block.Type)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to parse public key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: public key is a %T, want *ecdsa.PublicKey", key)
	}
	return ecdsaKey, nil
}

// MarshalPrivateKey encodes a private key as a PEM string.
func MarshalPrivateKey(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PrivateKeyFileType, Bytes: der})), nil
}

// MarshalPublicKey encodes a public key as a PEM string.
func MarshalPublicKey(key *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PublicKeyFileType, Bytes: der})), nil
}

func attestationDigest(hashes []hetpaxos.Hash) [32]byte {
	return sha256.Sum256(hetpaxospb.CanonicalHashSet(hashes).Marshal())
}

// Signer signs attestation sets with the local private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner returns a signer using the given key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Sign returns an ASN.1 DER signature over the canonical encoding of the
// given attestation set. The signature length varies; it must be treated as
// an opaque byte string.
func (s *Signer) Sign(hashes []hetpaxos.Hash) ([]byte, error) {
	digest := attestationDigest(hashes)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to sign attestation set: %w", err)
	}
	return sig, nil
}

// KeyDirectory resolves an acceptor short name to its public key.
// It is implemented by netconfig.Directory.
type KeyDirectory interface {
	PublicKey(name string) (*ecdsa.PublicKey, bool)
}

// Verifier verifies attestation signatures against a peer directory.
type Verifier struct {
	dir    KeyDirectory
	logger logging.Logger
}

// NewVerifier returns a verifier resolving sender keys from dir.
func NewVerifier(dir KeyDirectory, logger logging.Logger) *Verifier {
	return &Verifier{dir: dir, logger: logger}
}

// Verify reports whether signature is a valid signature by the named sender
// over the canonical encoding of the given attestation set. It returns false
// for unknown senders and malformed signatures; it never panics or errors.
func (v *Verifier) Verify(from string, hashes []hetpaxos.Hash, signature []byte) bool {
	key, ok := v.dir.PublicKey(from)
	if !ok {
		v.logger.Infof("dropped attestation from unknown sender %q", from)
		return false
	}
	digest := attestationDigest(hashes)
	if !ecdsa.VerifyASN1(key, digest[:], signature) {
		v.logger.Infof("invalid attestation signature from %s", from)
		return false
	}
	return true
}
