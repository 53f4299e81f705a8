package signer

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bakerd/crypto"
)

// ethereumSign signs a 32-byte digest with a secp256k1 key, the same
// primitive the teacher's crypto package builds PrivateKey/PublicKey on top
// of. Recoverable-signature internals are not our concern here; we only
// need a deterministic, verifiable byte string per request.
func ethereumSign(key *crypto.PrivateKey, digest []byte) ([]byte, error) {
	return ethcrypto.Sign(digest, key.PrivateKey)
}
