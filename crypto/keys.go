// Package crypto wraps the secp256k1 key material delegates sign with.
// Key-URI resolution and the signing protocol itself are out of scope
// (spec.md §1); this package only has to produce and load key pairs, the
// same narrow shape the teacher's own crypto package exposes before its
// address-specific helpers.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// BakerAddressPrefix is the human-readable prefix bakerd renders delegate
// addresses with in logs and operator-facing output. Consensus never
// compares delegates by this encoding (spec.md §3: delegates compare by key
// hash) — it exists purely so an operator can recognize "their" delegate in
// a log line without squinting at a raw hex hash.
const BakerAddressPrefix = "bkr"

// BakerAddress is a bech32-encoded rendering of a delegate's key hash,
// following the teacher's crypto.Address shape.
type BakerAddress struct {
	bytes []byte
}

func (a BakerAddress) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(BakerAddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeBakerAddress parses a bech32-encoded bakerd address back into its
// raw key-hash bytes, rejecting anything not minted with BakerAddressPrefix.
func DecodeBakerAddress(addrStr string) (BakerAddress, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return BakerAddress{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != BakerAddressPrefix {
		return BakerAddress{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return BakerAddress{}, fmt.Errorf("error converting bits: %w", err)
	}
	return BakerAddress{bytes: conv}, nil
}

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a new random key pair. Within this repository
// only tests call it.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the raw private key scalar.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// PubKey derives the public key counterpart.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// PrivateKeyFromBytes parses a raw private key scalar. The daemon itself
// loads delegate keys only from keystore files and does not call it.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the uncompressed public key encoding.
func (k *PublicKey) Bytes() []byte {
	return crypto.FromECDSAPub(k.PublicKey)
}

// KeyHash derives the delegate key hash internal/model.KeyHash is built
// from: a SHA-256 digest of the uncompressed public key, independent of any
// address encoding (spec.md §3: "Delegates compare by key hash").
func (k *PublicKey) KeyHash() [32]byte {
	return sha256.Sum256(k.Bytes())
}

// Address renders the first 20 bytes of the public key's key hash as a
// bech32 BakerAddress for display purposes.
func (k *PublicKey) Address() BakerAddress {
	hash := k.KeyHash()
	return BakerAddress{bytes: hash[:20]}
}
