// Package khash provides domain-separated SHA-256 hashing for the
// kernel's chain-hash linkage, Merkle tree, and retention policy IDs.
package khash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cohkernel/gmk/kernel/canon"
)

// Digest is a hex-encoded SHA-256 digest, always prefixed "sha256:".
type Digest string

// HexPrefix is the fixed prefix on every emitted digest.
const HexPrefix = "sha256:"

// GenesisZero is the all-zero digest every chain starts from:
// receipt[0].chain_prev = genesis_zero.
const GenesisZero Digest = HexPrefix + "0000000000000000000000000000000000000000000000000000000000000000"

const (
	ChainDomain     = "COH_CHAIN_V1\n"
	RetentionDomain = "COH_RETENTION_V1\n"
	SeedDomain      = "COH_SEED_V1\n"
	NonceDomain     = "COH_NONCE_V1\n"

	merkleLeafPrefix     byte = 0x00
	merkleInteriorPrefix byte = 0x01
)

// Sum returns the prefixed hex digest of SHA-256(data).
func Sum(data []byte) Digest {
	h := sha256.Sum256(data)
	return Digest(HexPrefix + hex.EncodeToString(h[:]))
}

// SumJCS canonicalizes v via canon.Marshal and returns its digest. Used
// for state_hash, action_hash, and any other "hash of JCS(x)" field.
func SumJCS(v any) (Digest, error) {
	b, err := canon.Marshal(v)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// Bytes decodes the 32 raw hash bytes from a prefixed digest.
func (d Digest) Bytes() ([32]byte, bool) {
	var out [32]byte
	s := strings.TrimPrefix(string(d), HexPrefix)
	if len(s) != 64 {
		return out, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

// ChainHashNext computes chain_hash_next = SHA256(DOMAIN || chain_prev
// (32 raw bytes) || JCS(receiptCore)).
func ChainHashNext(chainPrev Digest, receiptCore any) (Digest, error) {
	prevBytes, ok := chainPrev.Bytes()
	if !ok {
		return "", errInvalidDigest("chain_prev")
	}
	body, err := canon.Marshal(receiptCore)
	if err != nil {
		return "", err
	}
	preimage := make([]byte, 0, len(ChainDomain)+32+len(body))
	preimage = append(preimage, ChainDomain...)
	preimage = append(preimage, prevBytes[:]...)
	preimage = append(preimage, body...)
	return Sum(preimage), nil
}

// MerkleLeaf hashes a single Merkle leaf with the 0x00 domain prefix.
func MerkleLeaf(data []byte) Digest {
	preimage := append([]byte{merkleLeafPrefix}, data...)
	return Sum(preimage)
}

// MerkleInterior hashes an interior node from its two children with the
// 0x01 domain prefix: hash(0x01 || left || right).
func MerkleInterior(left, right Digest) (Digest, error) {
	lb, ok := left.Bytes()
	if !ok {
		return "", errInvalidDigest("left")
	}
	rb, ok := right.Bytes()
	if !ok {
		return "", errInvalidDigest("right")
	}
	preimage := make([]byte, 0, 1+64)
	preimage = append(preimage, merkleInteriorPrefix)
	preimage = append(preimage, lb[:]...)
	preimage = append(preimage, rb[:]...)
	return Sum(preimage), nil
}

// RetentionPolicyID computes policy_id = "sha256:" +
// SHA256("COH_RETENTION_V1\n" || JCS(policy)), the identity rule for
// retention policy documents. The domain tag prefix distinguishes
// policy IDs from any other sha256-over-JCS digest in the system.
func RetentionPolicyID(policy any) (Digest, error) {
	body, err := canon.Marshal(policy)
	if err != nil {
		return "", err
	}
	preimage := append([]byte(RetentionDomain), body...)
	return Sum(preimage), nil
}

type digestError string

func (e digestError) Error() string { return string(e) }

func errInvalidDigest(field string) error {
	return digestError("khash: invalid digest for " + field)
}
