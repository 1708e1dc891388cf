package receipt

import (
	"fmt"

	"github.com/cohkernel/gmk/kernel/canon"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/merkle"
)

// SlabSchemaID is the fixed schema identifier for slab receipts.
const SlabSchemaID = "gmk.slab_receipt.v1"

// SlabReceipt commits to a window of consecutive step receipts by
// Merkle root. WindowStart and WindowEnd are block
// heights; ReceiptCount is the number of leaves under ReceiptsRoot.
type SlabReceipt struct {
	SchemaID     string
	SlabID       uint64
	WindowStart  uint64
	WindowEnd    uint64
	ReceiptsRoot khash.Digest
	ReceiptCount int
	PolicyID     khash.Digest
	ChainAnchor  khash.Digest // chain_next of the last receipt in the window
}

// Core returns the canonical subset of the slab receipt that feeds its
// hash and the retention FSM's identity checks.
func (s *SlabReceipt) Core() map[string]any {
	return map[string]any{
		"schema_id":     s.SchemaID,
		"slab_id":       int64(s.SlabID),
		"window_start":  int64(s.WindowStart),
		"window_end":    int64(s.WindowEnd),
		"receipts_root": string(s.ReceiptsRoot),
		"receipt_count": int64(s.ReceiptCount),
		"policy_id":     string(s.PolicyID),
		"chain_anchor":  string(s.ChainAnchor),
	}
}

// Hash returns the content hash of the slab receipt's core.
func (s *SlabReceipt) Hash() (khash.Digest, error) {
	return khash.SumJCS(s.Core())
}

// Marshal returns the JCS bytes of the slab receipt's core.
func (s *SlabReceipt) Marshal() ([]byte, error) {
	return canon.Marshal(s.Core())
}

// BuildSlab groups consecutive step receipts into a slab: it computes
// the Merkle root over their receipt_core leaves and returns the slab
// receipt together with the tree, which callers keep around to produce
// inclusion proofs for disputes.
func BuildSlab(receipts []*StepReceipt, slabID, windowStart, windowEnd uint64, policyID khash.Digest) (*SlabReceipt, *merkle.Tree, error) {
	if len(receipts) == 0 {
		return nil, nil, fmt.Errorf("receipt: slab %d: empty receipt window", slabID)
	}
	leaves := make([][]byte, len(receipts))
	for i, r := range receipts {
		leaf, err := r.Leaf()
		if err != nil {
			return nil, nil, err
		}
		leaves[i] = leaf
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, nil, err
	}
	sr := &SlabReceipt{
		SchemaID:     SlabSchemaID,
		SlabID:       slabID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		ReceiptsRoot: tree.Root(),
		ReceiptCount: len(receipts),
		PolicyID:     policyID,
		ChainAnchor:  receipts[len(receipts)-1].ChainNext,
	}
	return sr, tree, nil
}
