package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex is the content fingerprint used for chunk dedupe and idempotency.
func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}
