// Package dns implements the DNS side of domain ownership verification:
// RFC 1464 TXT record parsing and matching, token generation, and the
// resolvers used to fetch TXT records.
package dns

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// RecordHost returns the DNS hostname where the verification TXT record must be
// placed for domain, e.g. "_airbyte-verification.example.com".
func RecordHost(prefix, domain string) string {
	return strings.TrimSuffix(prefix, ".") + "." + strings.TrimSuffix(domain, ".")
}

// GenerateToken produces a cryptographically random URL-safe token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
