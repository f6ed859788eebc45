package password

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// GeneratedLength is the length Generate uses when asked for zero.
	GeneratedLength = 16
	// MinGeneratedLength is the shortest password Generate will produce.
	MinGeneratedLength = 12

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789abcdefghijklmnopqrstuvwxyz"
)

// Generate returns a random password of upper case letters, digits and lower
// case letters. A length of zero selects GeneratedLength; anything shorter
// than MinGeneratedLength is rejected.
func Generate(length int) (string, error) {
	if length == 0 {
		length = GeneratedLength
	}
	if length < MinGeneratedLength {
		return "", fmt.Errorf("%w: generated passwords need at least %d characters", ErrTooShort, MinGeneratedLength)
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
