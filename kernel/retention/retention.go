// Package retention implements the slab lifecycle FSM, fraud-proof
// verification, and finalization gating. All stores are explicit
// values passed in by the host, never process singletons; the host
// serializes writers.
package retention

import (
	"fmt"

	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
)

// SlabState is one node of the slab lifecycle FSM.
type SlabState string

const (
	Pending     SlabState = "PENDING"
	Active      SlabState = "ACTIVE"
	Disputed    SlabState = "DISPUTED"
	Finalizable SlabState = "FINALIZABLE"
	Finalized   SlabState = "FINALIZED"
	Deleted     SlabState = "DELETED"
)

// rank orders states along the non-disputed lifecycle for idempotency
// checks. Disputed sits outside the ordering; it is terminal for
// deletion.
func (s SlabState) rank() int {
	switch s {
	case Pending:
		return 0
	case Active:
		return 1
	case Finalizable:
		return 2
	case Finalized:
		return 3
	case Deleted:
		return 4
	default:
		return -1
	}
}

// Slab is a tracked receipt window: the slab receipt plus its FSM state.
type Slab struct {
	Receipt *receipt.SlabReceipt
	State   SlabState
}

// Store is the process-wide slab/dispute/finalized registry the
// retention functions mutate. Implementations: MemStore here,
// persist.SQLStore for a durable host.
type Store interface {
	PutSlab(slab *Slab) error
	GetSlab(slabID uint64) (*Slab, bool, error)

	RegisterDispute(slabID uint64, proofHash khash.Digest) error
	IsDisputed(slabID uint64) (bool, error)

	RegisterFinalized(slabID uint64, finalizeHash khash.Digest) error
	IsFinalized(slabID uint64) (bool, error)

	RegisterPolicy(policy *Policy) (khash.Digest, error)
	GetPolicy(policyID khash.Digest) (*Policy, bool, error)
}

// Register admits a new slab into the store in the Pending state. The
// slab's policy must already be registered.
func Register(store Store, sr *receipt.SlabReceipt) error {
	if sr.WindowEnd < sr.WindowStart {
		return fmt.Errorf("retention: slab %d: window_end %d < window_start %d",
			sr.SlabID, sr.WindowEnd, sr.WindowStart)
	}
	if _, ok, err := store.GetPolicy(sr.PolicyID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("retention: slab %d: unknown policy %s", sr.SlabID, sr.PolicyID)
	}
	return store.PutSlab(&Slab{Receipt: sr, State: Pending})
}

// Advance applies the height-driven transitions: Pending→Active at
// window_start, Active→Finalizable once the retention period has
// elapsed and no dispute is registered. Idempotent; a slab already past
// a transition is left untouched.
func Advance(store Store, slabID uint64, height uint64) (SlabState, error) {
	slab, ok, err := store.GetSlab(slabID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("retention: unknown slab %d", slabID)
	}

	if slab.State == Pending && height >= slab.Receipt.WindowStart {
		slab.State = Active
		if err := store.PutSlab(slab); err != nil {
			return "", err
		}
	}

	if slab.State == Active {
		policy, ok, err := store.GetPolicy(slab.Receipt.PolicyID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("retention: slab %d: unknown policy %s", slabID, slab.Receipt.PolicyID)
		}
		disputed, err := store.IsDisputed(slabID)
		if err != nil {
			return "", err
		}
		if !disputed && height >= slab.Receipt.WindowEnd+policy.RetentionPeriodBlocks {
			slab.State = Finalizable
			if err := store.PutSlab(slab); err != nil {
				return "", err
			}
		}
	}

	return slab.State, nil
}
