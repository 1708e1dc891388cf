// Package prng implements the kernel's deterministic exploration and
// drift source: a ChaCha20 keystream seeded from the episode seed,
// parent chain hash, and step index.
package prng

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/chacha20"

	"github.com/cohkernel/gmk/kernel/khash"
)

// Source is a deterministic, replayable stream of pseudo-random Q18
// samples. It carries no wall-clock state; a Source constructed from
// identical inputs produces an identical stream.
type Source struct {
	cipher *chacha20.Cipher
	buf    [256]byte // keystream scratch, refilled on demand
	pos    int
}

// New derives a Source deterministically from (parentChainHash,
// episodeSeed, stepIndex) under the COH_SEED_V1 / COH_NONCE_V1 domain
// tags.
func New(parentChainHash khash.Digest, episodeSeed []byte, stepIndex uint64) (*Source, error) {
	seedPreimage := make([]byte, 0, len(khash.SeedDomain)+64+len(episodeSeed)+8)
	seedPreimage = append(seedPreimage, khash.SeedDomain...)
	prevBytes, _ := parentChainHash.Bytes()
	seedPreimage = append(seedPreimage, prevBytes[:]...)
	seedPreimage = append(seedPreimage, episodeSeed...)
	seedPreimage = binary.BigEndian.AppendUint64(seedPreimage, stepIndex)
	key := sha256.Sum256(seedPreimage) // 32 bytes: exactly chacha20's key size

	noncePreimage := make([]byte, 0, len(khash.NonceDomain)+8)
	noncePreimage = append(noncePreimage, khash.NonceDomain...)
	noncePreimage = binary.BigEndian.AppendUint64(noncePreimage, stepIndex)
	nonceFull := sha256.Sum256(noncePreimage)

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonceFull[:chacha20.NonceSize])
	if err != nil {
		return nil, err
	}
	s := &Source{cipher: c}
	s.pos = len(s.buf) // force refill on first read
	return s, nil
}

func (s *Source) fill() {
	var zero [256]byte
	s.cipher.XORKeyStream(s.buf[:], zero[:])
	s.pos = 0
}

// Uint32 returns the next 4 bytes of keystream as a big-endian uint32.
func (s *Source) Uint32() uint32 {
	if s.pos+4 > len(s.buf) {
		s.fill()
	}
	v := binary.BigEndian.Uint32(s.buf[s.pos : s.pos+4])
	s.pos += 4
	return v
}

// SeedCommit returns the hash of the episode seed preimage, constant
// per episode, matching StepReceipt's seed_commit field.
func SeedCommit(episodeSeed []byte) khash.Digest {
	return khash.Sum(append([]byte(khash.SeedDomain), episodeSeed...))
}
