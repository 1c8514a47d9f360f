package room

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

// alphabet excludes ambiguous characters: 0, O, 1, I, L
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

var validCode = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// GenerateCode returns a random room code.
func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}

// ValidCode reports whether code can be used as a room code. Codes end up in durable document paths, so
// separators are not allowed.
func ValidCode(code string) bool {
	return validCode.MatchString(code)
}
