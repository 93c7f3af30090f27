package domain

import (
	"crypto/rand"
	"strings"
)

// codeAlphabet drops I and O so a code read aloud or written down cannot be
// confused with 1 or 0.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

const CodeLength = 6

// GenerateCode returns a fresh 6-character room code. Uniqueness among live
// rooms is the repository's job, not this function's.
func GenerateCode() string {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// NormalizeCode upper-cases and trims user input before validation.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode checks the normalized shape: exactly 6 characters from the
// code alphabet.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return ErrInvalidCode
		}
	}
	return nil
}
