// Package sessions owns conversation semantics: content-hash dedup keys,
// history composition and trimming, transcript export, and the service
// that runs one model turn against a stored session.
package sessions

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/moltworks/colony/pkg/models"
)

// ContentHash computes the dedup key for a message: SHA-256 over
// role, a zero separator, and content, truncated to 128 bits and hex
// encoded. The separator keeps ("user", "ab") and ("usera", "b")
// distinct. Messages with equal role and content in the same session
// coalesce regardless of tool calls or accounting.
func ContentHash(role models.Role, content string) string {
	h := sha256.New()
	h.Write([]byte(role))
	h.Write([]byte{0})
	h.Write([]byte(content))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
