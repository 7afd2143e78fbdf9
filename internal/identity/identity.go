// Package identity derives stable content hashes for ingested items so the
// same post fetched twice resolves to the same row.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PostHash returns the canonical identity of a social post as a hex-encoded
// sha256 digest. The key is the item's URL when present, otherwise the
// platform plus author plus content. Whitespace is trimmed so cosmetic
// differences between fetches do not split an item's history.
func PostHash(platform, author, url, content string) string {
	var b strings.Builder
	if u := strings.TrimSpace(url); u != "" {
		b.WriteString(u)
	} else {
		b.WriteString(strings.TrimSpace(platform))
		b.WriteByte('|')
		b.WriteString(strings.TrimSpace(author))
		b.WriteByte('|')
		b.WriteString(strings.TrimSpace(content))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
