// Package util holds small helpers shared across RepLog packages: record IDs
// and environment parsing.
package util

import (
	"math/rand/v2"
	"strings"
)

// idHexLength is the number of random hex characters in record IDs.
const idHexLength = 24

// GenerateRandomID returns prefix followed by hexLength random hex characters.
// IDs are not secrets, so math/rand/v2 is sufficient.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lowercase hex characters.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(len(hexChars))])
	}
	return b.String()
}

// NewUserID returns a user ID ("u_" prefix).
func NewUserID() string { return GenerateRandomID("u_", idHexLength) }

// NewMessageID returns a message log ID ("m_" prefix).
func NewMessageID() string { return GenerateRandomID("m_", idHexLength) }

// NewWorkoutID returns a workout ID ("w_" prefix).
func NewWorkoutID() string { return GenerateRandomID("w_", idHexLength) }

// NewSetID returns a set ID ("s_" prefix).
func NewSetID() string { return GenerateRandomID("s_", idHexLength) }
