package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "LockerLedger:genesis:v1"

// StateHasher chains per-operation locker digests into a tamper-evident log.
// Callers serialize access (the dispatcher's emit lock).
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hash := chainHash(h.prevHash, sequence, digest)
	h.prevHash = hash
	return hash
}

func chainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()

	// prev_hash (32 bytes)
	hasher.Write(prev[:])

	// sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// Reset moves the tip, used when restoring from a snapshot.
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}
