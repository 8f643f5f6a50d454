package chain

import "crypto/sha256"

// Hasher is the digest strategy used to build and verify the ledger chain.
// It is injected so validation logic is independent of the algorithm.
type Hasher interface {
	Sum(data []byte) []byte
}

// SHA256 is the production hasher.
type SHA256 struct{}

func (SHA256) Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Genesis is the prev-hash of the first ledger event.
func Genesis() []byte {
	return make([]byte, sha256.Size)
}
