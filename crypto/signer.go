package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs receipt transport envelopes. The digest handed to Sign
// is the 32-byte content hash of the enveloped receipt core; the
// resulting signature rides in the envelope and never feeds a chain
// hash.
type Signer struct {
	key *PrivateKey
}

// NewSigner generates a fresh session signer.
func NewSigner() (*Signer, error) {
	key, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// SignerFromKey wraps an existing key.
func SignerFromKey(key *PrivateKey) *Signer {
	return &Signer{key: key}
}

// Address returns the signer's bech32 identity.
func (s *Signer) Address() Address {
	return s.key.PubKey().Address()
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, s.key.PrivateKey)
}

// VerifyEnvelope recovers the signing address from a digest/signature
// pair and checks it against the claimed signer.
func VerifyEnvelope(digest, sig []byte, addr Address) (bool, error) {
	if len(digest) != 32 {
		return false, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, err
	}
	recovered := crypto.PubkeyToAddress(*pub).Bytes()
	claimed := addr.Bytes()
	if len(recovered) != len(claimed) {
		return false, nil
	}
	for i := range recovered {
		if recovered[i] != claimed[i] {
			return false, nil
		}
	}
	return true, nil
}
