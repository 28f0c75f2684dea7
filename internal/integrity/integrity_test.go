package integrity

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noesis-ai/noesis/internal/model"
)

func testEntry(id uuid.UUID, action string, at time.Time) model.AuditEntry {
	return model.AuditEntry{
		ID:        id,
		Timestamp: at,
		Actor:     "I/O",
		Action:    action,
		ProjectID: uuid.MustParse("99999999-9999-9999-9999-999999999999"),
		Payload:   map[string]any{"proposal_id": id.String()},
	}
}

func TestComputeEntryHash_Deterministic(t *testing.T) {
	e := testEntry(uuid.MustParse("11111111-1111-1111-1111-111111111111"), "SMF_PROPOSE", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC))

	h1 := ComputeEntryHash("", e)
	h2 := ComputeEntryHash("", e)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex SHA-256, got %d chars", len(h1))
	}
}

func TestComputeEntryHash_ChainsOnPrevHash(t *testing.T) {
	e := testEntry(uuid.New(), "SMF_APPROVE", time.Now())

	h1 := ComputeEntryHash("", e)
	h2 := ComputeEntryHash("some-other-prev", e)
	if h1 == h2 {
		t.Fatal("same entry chained from different prevHash should hash differently")
	}
}

func TestComputeEntryHash_DifferentActionsDiffer(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	h1 := ComputeEntryHash("", testEntry(id, "SMF_APPROVE", at))
	h2 := ComputeEntryHash("", testEntry(id, "SMF_REJECT", at))
	if h1 == h2 {
		t.Fatal("different actions should produce different hashes")
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []model.AuditEntry{
		testEntry(uuid.New(), "SMF_PROPOSE", base),
		testEntry(uuid.New(), "SMF_APPROVE", base.Add(time.Minute)),
		testEntry(uuid.New(), "EDGE_RECLASSIFY", base.Add(2*time.Minute)),
	}

	hashes := make([]string, len(entries))
	prev := ""
	for i, e := range entries {
		hashes[i] = ComputeEntryHash(prev, e)
		prev = hashes[i]
	}

	if idx := VerifyChain(entries, hashes); idx != -1 {
		t.Fatalf("untampered chain should verify, got divergence at %d", idx)
	}

	entries[1].Action = "SMF_REJECT"
	if idx := VerifyChain(entries, hashes); idx != 1 {
		t.Fatalf("expected divergence at index 1 after tampering, got %d", idx)
	}
}

func TestVerifyChain_EmptyChainVerifies(t *testing.T) {
	if idx := VerifyChain(nil, nil); idx != -1 {
		t.Fatalf("empty chain should trivially verify, got %d", idx)
	}
}

func TestBuildMerkleRoot_Empty(t *testing.T) {
	if root := BuildMerkleRoot(nil); root != "" {
		t.Fatalf("empty input should produce empty root, got %q", root)
	}
}

func TestBuildMerkleRoot_SingleLeaf(t *testing.T) {
	leaf := "abc123"
	if root := BuildMerkleRoot([]string{leaf}); root != leaf {
		t.Fatalf("single leaf should be the root: got %q, want %q", root, leaf)
	}
}

func TestBuildMerkleRoot_Deterministic(t *testing.T) {
	leaves := []string{"hash_a", "hash_b", "hash_c", "hash_d"}
	r1 := BuildMerkleRoot(leaves)
	r2 := BuildMerkleRoot(leaves)
	if r1 != r2 {
		t.Fatalf("Merkle root not deterministic: %q != %q", r1, r2)
	}
	if len(r1) != 64 {
		t.Fatalf("expected 64-char hex SHA-256 root, got %d chars", len(r1))
	}
}

func TestBuildMerkleRoot_OrderMatters(t *testing.T) {
	r1 := BuildMerkleRoot([]string{"a", "b", "c"})
	r2 := BuildMerkleRoot([]string{"b", "a", "c"})
	if r1 == r2 {
		t.Fatal("different leaf ordering should produce different roots")
	}
}

func TestBuildMerkleRoot_OddLeafCount(t *testing.T) {
	root := BuildMerkleRoot([]string{"x", "y", "z"})
	if root == "" {
		t.Fatal("odd leaf count should still produce a root")
	}
	if len(root) != 64 {
		t.Fatalf("expected 64-char hex SHA-256 root, got %d chars", len(root))
	}
}

func TestBuildCheckpoint_CarriesBoundaries(t *testing.T) {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	cp := BuildCheckpoint([]string{"h1", "h2", "h3"}, 0, 2, at)
	if cp.Root == "" {
		t.Fatal("checkpoint root should be non-empty for a non-empty window")
	}
	if cp.EntryFrom != 0 || cp.EntryTo != 2 {
		t.Fatalf("expected bounds [0,2], got [%d,%d]", cp.EntryFrom, cp.EntryTo)
	}
	if !cp.BuiltAt.Equal(at) {
		t.Fatalf("expected BuiltAt %v, got %v", at, cp.BuiltAt)
	}
}
