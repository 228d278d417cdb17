// internal/buzzer/code.go
package buzzer

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeLength is the number of characters in a lobby code.
const CodeLength = 4

// codeAlphabet drops I and O so codes read unambiguously aloud and on screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewCode draws a random lobby code.
func NewCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate lobby code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims user input. ok is false when it cannot be a code.
func NormalizeCode(raw string) (code string, ok bool) {
	code = strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if c := code[i]; c < 'A' || c > 'Z' {
			return "", false
		}
	}
	return code, true
}
