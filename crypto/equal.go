package crypto

import "crypto/subtle"

// Equal compares two byte slices in constant time. It is used wherever
// secret-derived material (authentication tags, session keys, receipt
// integrity values) is compared, so that execution time does not reveal the
// position of the first differing byte.
//
// Length is not treated as secret: slices of different length compare false
// immediately. For equal-length slices every byte pair is inspected exactly
// once regardless of where a mismatch occurs.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
