package retention

import (
	"fmt"

	"github.com/cohkernel/gmk/kernel/khash"
)

// DeletionAuthorization names the three conditions a finalize claim
// must satisfy before a slab may be deleted.
type DeletionAuthorization struct {
	MinBudgetQ        int64
	NoDisputes        bool
	WindowEndVerified bool
}

// Policy is the retention policy document. It is content-addressed:
// policy_id = "sha256:" + SHA256(JCS(policy)) under the
// COH_RETENTION_V1 domain.
type Policy struct {
	Version               string
	RetentionPeriodBlocks uint64
	DisputeWindowBlocks   uint64
	DeletionAuthorization DeletionAuthorization
}

// ToCanonical renders the policy document for hashing.
func (p *Policy) ToCanonical() map[string]any {
	return map[string]any{
		"version":                 p.Version,
		"retention_period_blocks": int64(p.RetentionPeriodBlocks),
		"dispute_window_blocks":   int64(p.DisputeWindowBlocks),
		"deletion_authorization": map[string]any{
			"min_budget":          p.DeletionAuthorization.MinBudgetQ,
			"no_disputes":         p.DeletionAuthorization.NoDisputes,
			"window_end_verified": p.DeletionAuthorization.WindowEndVerified,
		},
	}
}

// ID computes the policy's content-addressed identity.
func (p *Policy) ID() (khash.Digest, error) {
	return khash.RetentionPolicyID(p.ToCanonical())
}

// Validate checks the policy document's structural invariants.
func (p *Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("retention: policy version must not be empty")
	}
	if p.RetentionPeriodBlocks == 0 {
		return fmt.Errorf("retention: retention_period_blocks must be positive")
	}
	if p.DeletionAuthorization.MinBudgetQ < 0 {
		return fmt.Errorf("retention: min_budget must be non-negative")
	}
	return nil
}

// FinalizeHeight computes the earliest height at which a slab ending at
// windowEnd may finalize under this policy.
func (p *Policy) FinalizeHeight(windowEnd uint64) uint64 {
	return windowEnd + p.RetentionPeriodBlocks
}
