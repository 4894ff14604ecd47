package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeLength is the number of symbols in a pairing code.
const CodeLength = 6

// Alphabet excludes symbols that are easy to confuse when read aloud or
// typed from a screen: 0/O, 1/I/L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random pairing code such as "K7QP3M".
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)

	limit := big.NewInt(int64(len(Alphabet)))
	for range CodeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims whitespace, drops separators people tend to type
// ("K7Q-P3M") and upper-cases the result.
func NormalizeCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	return strings.ToUpper(s)
}

// ValidCode reports whether s is a well-formed, normalized pairing code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
