package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// peerIDBytes is the entropy behind a minted peer id.
const peerIDBytes = 16

// NewPeerID mints a random base58 peer id for a fresh profile.
func NewPeerID() (string, error) {
	buf := make([]byte, peerIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base58.Encode(buf), nil
}
