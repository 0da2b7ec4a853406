// Package identity implements the tunnel's cryptographic identity: an
// Ed25519 keypair, the hostname derived from its public half, and the
// domain-separated challenge/response signing used to prove possession of
// the private key during relay registration.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// domainPrefix is prepended to every signed or hashed payload so a
// signature or hostname produced for this protocol can never be replayed
// against an unrelated one that happens to share a message format.
const domainPrefix = "CraftIPServerHost"

// HostnameLength is the number of base-36 characters that make up a
// tunnel's public hostname.
const HostnameLength = 20

// base36Alphabet is the digit set used by Hostname, matching the alphabet
// the original implementation encodes against.
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ChallengeSize is the length in bytes of a registration challenge.
const ChallengeSize = 64

var (
	// ErrInvalidEncoding is returned when a key or signature cannot be
	// decoded from its wire/text representation.
	ErrInvalidEncoding = errors.New("identity: invalid encoding")
	// ErrInvalidLength is returned when a decoded value has the wrong
	// byte length for its type.
	ErrInvalidLength = errors.New("identity: invalid length")
)

// PublicKey is a tunnel's 32-byte Ed25519 public key.
type PublicKey [ed25519.PublicKeySize]byte

// Challenge is the 64 random bytes a relay asks a tunnel client to sign.
type Challenge [ChallengeSize]byte

// Signature is an Ed25519 signature over a domain-separated challenge.
type Signature [ed25519.SignatureSize]byte

// PrivateKey holds the full Ed25519 keypair used to sign challenges.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 keypair using a cryptographically
// secure random source.
func Generate() (PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("identity: generate: %w", err)
	}
	return PrivateKey{key: priv}, nil
}

// Public returns the public half of the keypair.
func (k PrivateKey) Public() PublicKey {
	var pub PublicKey
	copy(pub[:], k.key.Public().(ed25519.PublicKey))
	return pub
}

// Sign produces a signature over the domain-separated challenge. Sign is
// total: it never panics on any Challenge value.
func (k PrivateKey) Sign(challenge Challenge) Signature {
	var out Signature
	copy(out[:], ed25519.Sign(k.key, domainSeparated(challenge[:])))
	return out
}

// Verify reports whether sig is a valid signature over challenge by the
// holder of pub. Verify is total: it never panics on untrusted input.
func Verify(pub PublicKey, challenge Challenge, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), domainSeparated(challenge[:]), sig[:])
}

func domainSeparated(data []byte) []byte {
	out := make([]byte, 0, len(domainPrefix)+len(data))
	out = append(out, domainPrefix...)
	out = append(out, data...)
	return out
}

// NewChallenge returns 64 uniformly random bytes for a relay to issue as a
// fresh registration challenge.
func NewChallenge() (Challenge, error) {
	var c Challenge
	if _, err := rand.Read(c[:]); err != nil {
		return Challenge{}, fmt.Errorf("identity: challenge: %w", err)
	}
	return c, nil
}

// Hostname derives a tunnel's public hostname from its public key:
// base36(SHA-256(domainPrefix || pubkey)), truncated to HostnameLength
// characters. It is a pure function of pub.
func Hostname(pub PublicKey) string {
	sum := sha256.Sum256(domainSeparated(pub[:]))
	digest := base36Encode(sum[:])
	for len(digest) < HostnameLength {
		digest = "0" + digest
	}
	return digest[:HostnameLength]
}

func base36Encode(b []byte) string {
	n := new(big.Int).SetBytes(b)
	if n.Sign() == 0 {
		return "0"
	}
	base := big.NewInt(36)
	mod := new(big.Int)
	buf := make([]byte, 0, 64)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		buf = append(buf, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ParsePublicKey validates and wraps a raw 32-byte public key, e.g. as
// carried in a ProxyHello message.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pub PublicKey
	if len(b) != len(pub) {
		return PublicKey{}, fmt.Errorf("identity: public key: %w", ErrInvalidLength)
	}
	copy(pub[:], b)
	return pub, nil
}

// Equal reports whether two public keys are the same, in constant time.
func (p PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(p[:], other[:]) == 1
}

// MarshalPKCS8 encodes the private key as a PKCS8 DER blob, the format
// persisted tunnel-client state stores hex-encoded. Go's PKCS8 encoding of
// an Ed25519 key is not byte-identical to other ecosystems' encoders (it
// omits the optional public-key attribute some encode), but it round-trips
// correctly within this codebase, which is all persistence requires.
func (k PrivateKey) MarshalPKCS8() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal: %w", err)
	}
	return der, nil
}

// ParsePKCS8 decodes a PKCS8 DER blob produced by MarshalPKCS8.
func ParsePKCS8(der []byte) (PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("identity: parse: %w: %w", ErrInvalidEncoding, err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return PrivateKey{}, fmt.Errorf("identity: parse: %w: not an Ed25519 key", ErrInvalidEncoding)
	}
	return PrivateKey{key: edKey}, nil
}

// EncodeHex returns the hex encoding of the key's PKCS8 DER form, the
// representation used by the tunnel client's persisted state file.
func (k PrivateKey) EncodeHex() (string, error) {
	der, err := k.MarshalPKCS8()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(der), nil
}

// DecodeHex parses a key previously produced by EncodeHex.
func DecodeHex(s string) (PrivateKey, error) {
	der, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("identity: decode: %w: %w", ErrInvalidEncoding, err)
	}
	return ParsePKCS8(der)
}
