package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainData prefixes every data identity hash. The version suffix allows
// the identity scheme to change without colliding with old databases.
const DomainData = "auditcore/data/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, b []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeIdentity derives the identity of an object from its kind, subtype
// and identifying properties. Non-identifying attributes never take part.
func ComputeIdentity(kind Kind, subtype string, key map[string]string) (string, error) {
	if kind == KindAny {
		return "", fmt.Errorf("compute identity: kind is required")
	}
	if key == nil {
		key = map[string]string{}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"kind":    kind.String(),
		"subtype": subtype,
		"key":     key,
	})
	if err != nil {
		return "", fmt.Errorf("compute identity: %w", err)
	}
	return hashWithDomain(DomainData, canonical), nil
}
