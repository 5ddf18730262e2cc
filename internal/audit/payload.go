package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// payloadHash returns the SHA-256 of payload's JSON encoding. encoding/json
// sorts map keys, so equal maps hash equally.
func payloadHash(payload map[string]string) (string, error) {
	if payload == nil {
		payload = map[string]string{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// PayloadMatches reports whether payload is the one recorded in e.
func PayloadMatches(e *Entry, payload map[string]string) bool {
	h, err := payloadHash(payload)
	return err == nil && h == e.DataHash
}
