package domain

import "math/rand"

// DefaultPINLength matches the join codes rendered on the lobby screen.
const DefaultPINLength = 6

// GeneratePIN returns a fixed-length numeric join code. Uniqueness is the
// caller's responsibility; stores retry with a fresh code on collision.
func GeneratePIN(length int, rnd *rand.Rand) string {
	if length <= 0 {
		length = DefaultPINLength
	}
	digits := make([]byte, length)
	for i := range digits {
		digits[i] = byte('0' + rnd.Intn(10))
	}
	return string(digits)
}
