// Package random provides cryptographically secure random byte generation.
package random

import (
	"crypto/rand"
	"fmt"
)

// CollisionResistantLength is a byte length suitable for collision-resistant
// identifiers.
const CollisionResistantLength = 32

// New returns a byte slice of the specified length with cryptographically
// random contents.
func New(length int) ([]byte, error) {
	result := make([]byte, length)
	if _, err := rand.Read(result); err != nil {
		return nil, fmt.Errorf("unable to read random data: %w", err)
	}
	return result, nil
}

// Uint32n returns a cryptographically random, uniformly distributed value in
// [0, n). It panics if n is zero, matching the contract expected by callers
// that already know their candidate set is non-empty.
func Uint32n(n uint32) uint32 {
	if n == 0 {
		panic("random: zero range")
	}

	// Use rejection sampling to avoid modulo bias.
	max := (1 << 32) / uint64(n) * uint64(n)
	var buffer [4]byte
	for {
		if _, err := rand.Read(buffer[:]); err != nil {
			// The only realistic failure mode is total entropy source
			// failure, which we can't recover from meaningfully.
			panic(fmt.Sprintf("random: unable to read random data: %v", err))
		}
		value := uint64(buffer[0])<<24 | uint64(buffer[1])<<16 | uint64(buffer[2])<<8 | uint64(buffer[3])
		if value < max {
			return uint32(value % uint64(n))
		}
	}
}
