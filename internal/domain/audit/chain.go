package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeHash derives an entry's chain hash from its fields and the
// previous entry's hash. The pipe-delimited field order must never change;
// doing so would invalidate every previously computed hash.
func ComputeHash(e Entry) string {
	material := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		e.ID,
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		e.ConsumerID,
		e.ServerID,
		e.Tool,
		e.Status,
		e.PrevHash,
	)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// Seal computes and sets e.Hash from its own fields and prevHash, also
// setting e.PrevHash. It returns the sealed entry.
func Seal(e Entry, prevHash string) Entry {
	e.PrevHash = prevHash
	e.Hash = ComputeHash(e)
	return e
}

// VerifyChain walks entries in order and confirms each one's Hash matches
// its recomputed value and that PrevHash correctly links to its
// predecessor. It returns the index of the first broken entry, or -1 if the
// whole chain verifies.
func VerifyChain(entries []Entry) int {
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return i
		}
		if ComputeHash(e) != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}
