// Package integrity provides tamper-evident hash chaining over the audit
// log (§4.L). Every audit_log row's hash commits to the previous row's
// hash plus its own immutable fields, so altering or removing any past
// entry breaks every hash computed after it. Periodic Merkle checkpoints
// over a window of chained hashes (built every IntegrityProofInterval, the
// config knob this package is named after) let an operator attest to "the
// log was unmodified through this point" without re-hashing the whole
// table. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/noesis-ai/noesis/internal/model"
)

// genesisHash seeds the chain for the first audit entry in a project — a
// fixed, non-empty prefix so an entry with prevHash="" can never collide
// with one honestly chained from a prior all-zero hash.
const genesisHash = "genesis"

// ComputeEntryHash produces the chained SHA-256 hex digest for one
// audit_log row: prevHash (the project's prior entry hash, or the
// genesisHash for that project's first entry) committed together with
// this entry's immutable fields. Fields are length-prefixed to avoid
// second-preimage forgeries from delimiter collisions (e.g. an actor
// "a" and action "b|c" hashing the same as actor "a|b" and action "c").
func ComputeEntryHash(prevHash string, e model.AuditEntry) string {
	if prevHash == "" {
		prevHash = genesisHash
	}
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by audit payload size
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(prevHash)
	writeField(e.ID.String())
	writeField(e.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(e.Actor)
	writeField(e.Action)
	target := ""
	if e.TargetID != nil {
		target = e.TargetID.String()
	}
	writeField(target)
	writeField(e.ProjectID.String())
	writeField(canonicalPayload(e.Payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes the hash chain across entries — ordered oldest
// first, as ListAuditEntries' DESC order must be reversed before calling
// this — against their previously stored hashes. Returns the index of the
// first entry whose recomputed hash diverges from storedHashes, or -1 if
// the entire chain still verifies.
func VerifyChain(entries []model.AuditEntry, storedHashes []string) int {
	prev := ""
	for i, e := range entries {
		got := ComputeEntryHash(prev, e)
		if i >= len(storedHashes) || got != storedHashes[i] {
			return i
		}
		prev = storedHashes[i]
	}
	return -1
}

// canonicalPayload renders an audit payload map deterministically for
// hashing. Map iteration order in Go is randomized, so keys are sorted
// before concatenation; values are rendered with fmt's stable %v rather
// than json.Marshal to avoid depending on encoding/json's own key-order
// guarantees holding across Go versions.
func canonicalPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var b []byte
	for _, k := range keys {
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, []byte(stringify(payload[k]))...)
		b = append(b, ';')
	}
	return string(b)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// hashPair produces SHA-256(0x01 || len(a) || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per
// RFC 6962), ensuring internal node hashes can never collide with leaf
// hashes. The 4-byte big-endian length prefix on a prevents second-preimage
// attacks from boundary ambiguity.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	aBytes := []byte(a)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(aBytes))) //nolint:gosec // hash inputs are bounded-length hex strings
	h.Write(lenBuf[:])
	h.Write(aBytes)
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes (a window of
// chained audit-entry hashes since the last checkpoint) and returns the
// root. Leaves must be in a caller-determined, stable order — callers use
// chain order, which is itself deterministic. If leaves is empty, returns
// an empty string. If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself for structural binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}

// Checkpoint is a periodic tamper-evidence attestation built every
// IntegrityProofInterval: a Merkle root over every chained entry hash
// observed since the previous checkpoint, plus the boundary timestamp.
type Checkpoint struct {
	Root      string
	BuiltAt   time.Time
	EntryFrom int // inclusive index into the project's chain, for audit.
	EntryTo   int // inclusive index into the project's chain.
}

// BuildCheckpoint folds a window of chained entry hashes into one root.
// from/to are the caller's own bookkeeping of which chain positions the
// window covers, carried through unexamined.
func BuildCheckpoint(hashes []string, from, to int, at time.Time) Checkpoint {
	return Checkpoint{Root: BuildMerkleRoot(hashes), BuiltAt: at, EntryFrom: from, EntryTo: to}
}
