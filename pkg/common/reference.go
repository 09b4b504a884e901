package common

import (
	"math/rand"
	"strings"
)

// Document reference prefixes. Every generated code is prefix + 8 uppercase
// alphanumeric characters, e.g. DP5TG20VG1.
const (
	PrefixPayment  = "DP"
	PrefixPayout   = "DD"
	PrefixLedger   = "LE"
	PrefixQuote    = "DQ"
	PrefixInvoice  = "DV"
	PrefixContract = "DC"
)

const referenceLength = 8

const referenceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateReferenceCode returns a new reference code for the given prefix.
// Uniqueness is not guaranteed here; the storage layer enforces it with a
// unique constraint and the caller retries on collision.
func GenerateReferenceCode(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < referenceLength; i++ {
		b.WriteByte(referenceChars[rand.Intn(len(referenceChars))])
	}
	return b.String()
}

// ValidateReferenceCode reports whether code has the expected prefix and the
// exact length len(prefix)+8.
func ValidateReferenceCode(code, prefix string) bool {
	if code == "" {
		return false
	}
	if len(code) != len(prefix)+referenceLength {
		return false
	}
	return strings.HasPrefix(code, prefix)
}
