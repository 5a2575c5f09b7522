// Package crypto wraps the Ed25519 signature scheme and the content
// hashing used throughout the configuration governance service: every
// validator public key, every proposal, and every vote is identified by
// bytes produced here.
package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length in bytes of a content hash.
const HashSize = sha256.Size

// Hash is a 32-byte content hash, the sole identifier for configurations,
// proposals and votes.
type Hash [HashSize]byte

// String renders the hash as hex, matching the teacher's log-friendly
// formatting elsewhere in the codebase.
func (h Hash) String() string {
	return fmt.Sprintf("%x", [HashSize]byte(h))
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashBytes computes the content hash of data.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// MarshalJSON renders the hash as a hex JSON string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses a hex JSON string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != HashSize {
		return fmt.Errorf("invalid hash size: expected %d, got %d", HashSize, len(raw))
	}
	copy(h[:], raw)
	return nil
}

// PublicKey is a validator's Ed25519 public key.
type PublicKey [ed25519.PublicKeySize]byte

// String base64-encodes the public key, matching the wire encoding
// required by spec.md section 6 ("base-encoded public keys").
func (pk PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(pk[:])
}

// Less orders two public keys by their raw bytes. Used everywhere the
// service must iterate validators or votes in a deterministic order
// rather than relying on map iteration.
func (pk PublicKey) Less(other PublicKey) bool {
	for i := range pk {
		if pk[i] != other[i] {
			return pk[i] < other[i]
		}
	}
	return false
}

// MarshalJSON renders the public key as a base64 JSON string, matching
// the wire encoding StoredConfiguration uses for its validator list.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + pk.String() + `"`), nil
}

// UnmarshalJSON parses a base64 JSON string into a public key.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(encoded)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// ParsePublicKey decodes a base64-encoded Ed25519 public key.
func ParsePublicKey(encoded string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(raw))
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// KeyPair is a validator's signing identity.
type KeyPair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	var pk PublicKey
	copy(pk[:], pub)
	return &KeyPair{Public: pk, private: priv}, nil
}

// Sign signs data with the key pair's private key.
func (kp *KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.private, data)
}

// Seed returns the 32-byte seed that deterministically regenerates this
// key pair, for validator identities persisted to disk by configctl.
func (kp *KeyPair) Seed() []byte {
	return append([]byte{}, kp.private.Seed()...)
}

// LoadKeyPair reconstructs a key pair from a previously saved seed.
func LoadKeyPair(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: expected %d, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pk PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return &KeyPair{Public: pk, private: priv}, nil
}

// Verify reports whether signature is a valid Ed25519 signature of data
// under pk.
func Verify(pk PublicKey, data, signature []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), data, signature)
}
