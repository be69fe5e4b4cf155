package manifest

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeManifestHash hashes a canonical manifest encoding.
//
// sha256 over the canonical bytes, hex-encoded; stable across architectures.
// The input must already be canonical (from BuildManifest.CanonicalJSON).
func ComputeManifestHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
