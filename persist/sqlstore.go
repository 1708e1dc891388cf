// Package persist provides durable backings for the retention FSM's
// registries (SQL via gorm) and cold archival of finalized slabs
// (parquet). The kernel never imports this package; hosts wire it in
// as the explicit store the retention functions take.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/retention"
)

// slabRow is the gorm model for tracked slabs. The slab receipt is
// stored as its canonical JSON so re-reading yields the exact hashed
// bytes.
type slabRow struct {
	SlabID      uint64 `gorm:"primaryKey;column:slab_id"`
	State       string `gorm:"column:state"`
	ReceiptJSON []byte `gorm:"column:receipt_json"`
}

func (slabRow) TableName() string { return "gmk_slabs" }

type disputeRow struct {
	SlabID    uint64 `gorm:"primaryKey;column:slab_id"`
	ProofHash string `gorm:"column:proof_hash"`
}

func (disputeRow) TableName() string { return "gmk_disputes" }

type finalizedRow struct {
	SlabID       uint64 `gorm:"primaryKey;column:slab_id"`
	FinalizeHash string `gorm:"column:finalize_hash"`
}

func (finalizedRow) TableName() string { return "gmk_finalized" }

type policyRow struct {
	PolicyID   string `gorm:"primaryKey;column:policy_id"`
	PolicyJSON []byte `gorm:"column:policy_json"`
}

func (policyRow) TableName() string { return "gmk_policies" }

// SQLStore is a gorm-backed retention.Store. Writers must be
// serialized by the host; readers may be concurrent.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to postgres with the given DSN and migrates
// the registry tables.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("persist: open postgres: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing gorm handle, migrating the registry
// tables.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&slabRow{}, &disputeRow{}, &finalizedRow{}, &policyRow{}); err != nil {
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) PutSlab(slab *retention.Slab) error {
	blob, err := json.Marshal(slabReceiptWire(slab.Receipt))
	if err != nil {
		return err
	}
	row := slabRow{
		SlabID:      slab.Receipt.SlabID,
		State:       string(slab.State),
		ReceiptJSON: blob,
	}
	return s.db.Save(&row).Error
}

func (s *SQLStore) GetSlab(slabID uint64) (*retention.Slab, bool, error) {
	var row slabRow
	err := s.db.First(&row, "slab_id = ?", slabID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var wire slabWire
	if err := json.Unmarshal(row.ReceiptJSON, &wire); err != nil {
		return nil, false, fmt.Errorf("persist: corrupt slab %d: %w", slabID, err)
	}
	return &retention.Slab{
		Receipt: wire.toReceipt(),
		State:   retention.SlabState(row.State),
	}, true, nil
}

func (s *SQLStore) RegisterDispute(slabID uint64, proofHash khash.Digest) error {
	row := disputeRow{SlabID: slabID, ProofHash: string(proofHash)}
	return s.db.Save(&row).Error
}

func (s *SQLStore) IsDisputed(slabID uint64) (bool, error) {
	var count int64
	err := s.db.Model(&disputeRow{}).Where("slab_id = ?", slabID).Count(&count).Error
	return count > 0, err
}

func (s *SQLStore) RegisterFinalized(slabID uint64, finalizeHash khash.Digest) error {
	row := finalizedRow{SlabID: slabID, FinalizeHash: string(finalizeHash)}
	return s.db.Save(&row).Error
}

func (s *SQLStore) IsFinalized(slabID uint64) (bool, error) {
	var count int64
	err := s.db.Model(&finalizedRow{}).Where("slab_id = ?", slabID).Count(&count).Error
	return count > 0, err
}

func (s *SQLStore) RegisterPolicy(policy *retention.Policy) (khash.Digest, error) {
	if err := policy.Validate(); err != nil {
		return "", err
	}
	id, err := policy.ID()
	if err != nil {
		return "", err
	}
	blob, err := json.Marshal(policy)
	if err != nil {
		return "", err
	}
	row := policyRow{PolicyID: string(id), PolicyJSON: blob}
	if err := s.db.Save(&row).Error; err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLStore) GetPolicy(policyID khash.Digest) (*retention.Policy, bool, error) {
	var row policyRow
	err := s.db.First(&row, "policy_id = ?", string(policyID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	policy := &retention.Policy{}
	if err := json.Unmarshal(row.PolicyJSON, policy); err != nil {
		return nil, false, fmt.Errorf("persist: corrupt policy %s: %w", policyID, err)
	}
	return policy, true, nil
}

// slabWire is the JSON persistence shape for slab receipts.
type slabWire struct {
	SchemaID     string `json:"schema_id"`
	SlabID       uint64 `json:"slab_id"`
	WindowStart  uint64 `json:"window_start"`
	WindowEnd    uint64 `json:"window_end"`
	ReceiptsRoot string `json:"receipts_root"`
	ReceiptCount int    `json:"receipt_count"`
	PolicyID     string `json:"policy_id"`
	ChainAnchor  string `json:"chain_anchor"`
}

func slabReceiptWire(sr *receipt.SlabReceipt) slabWire {
	return slabWire{
		SchemaID:     sr.SchemaID,
		SlabID:       sr.SlabID,
		WindowStart:  sr.WindowStart,
		WindowEnd:    sr.WindowEnd,
		ReceiptsRoot: string(sr.ReceiptsRoot),
		ReceiptCount: sr.ReceiptCount,
		PolicyID:     string(sr.PolicyID),
		ChainAnchor:  string(sr.ChainAnchor),
	}
}

func (w slabWire) toReceipt() *receipt.SlabReceipt {
	return &receipt.SlabReceipt{
		SchemaID:     w.SchemaID,
		SlabID:       w.SlabID,
		WindowStart:  w.WindowStart,
		WindowEnd:    w.WindowEnd,
		ReceiptsRoot: khash.Digest(w.ReceiptsRoot),
		ReceiptCount: w.ReceiptCount,
		PolicyID:     khash.Digest(w.PolicyID),
		ChainAnchor:  khash.Digest(w.ChainAnchor),
	}
}
