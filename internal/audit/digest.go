package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// digestLength is the number of hex characters kept from the payload hash.
// Long enough to make collisions impractical as a tamper-evidence signal,
// short enough that the trail never leaks payload contents.
const digestLength = 16

// PayloadDigest fingerprints a payload deterministically. encoding/json
// sorts map keys and fixes struct field order, so equal payloads always
// produce equal digests. A nil payload yields an empty digest.
func PayloadDigest(payload any) string {
	if payload == nil {
		return ""
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		// Unserializable payloads still deserve a marker distinguishable
		// from "no payload".
		return "unserializable"
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])[:digestLength]
}
