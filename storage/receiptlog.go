package storage

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
)

// ReceiptLog is an append-only sequence of step receipts over a
// Database backend. Each entry stores the receipt's canonical core
// bytes plus the transport envelope; the core bytes are stored verbatim
// so a replay reads back exactly what was hashed. Implements the
// episode runtime's ReceiptSink.
type ReceiptLog struct {
	mu    sync.Mutex
	db    Database
	count uint64
	tip   khash.Digest
}

type logEntry struct {
	Core      json.RawMessage `json:"core"`
	ChainNext string          `json:"chain_next"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Signer    string          `json:"signer,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type logMeta struct {
	Count uint64 `json:"count"`
	Tip   string `json:"tip"`
}

var metaKey = []byte("meta")

// OpenReceiptLog opens (or initializes) a receipt log on db.
func OpenReceiptLog(db Database) (*ReceiptLog, error) {
	log := &ReceiptLog{db: db, tip: khash.GenesisZero}
	raw, err := db.Get(metaKey)
	if err == nil {
		var meta logMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("storage: corrupt receipt log meta: %w", err)
		}
		log.count = meta.Count
		log.tip = khash.Digest(meta.Tip)
	}
	return log, nil
}

// Append publishes one receipt, enforcing chain continuity against the
// stored tip.
func (l *ReceiptLog) Append(r *receipt.StepReceipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count > 0 && r.ChainPrev != l.tip {
		return fmt.Errorf("storage: chain discontinuity at %d: prev %s, tip %s",
			l.count, r.ChainPrev, l.tip)
	}

	core, err := r.Leaf()
	if err != nil {
		return err
	}
	entry := logEntry{
		Core:      json.RawMessage(core),
		ChainNext: string(r.ChainNext),
		Timestamp: r.Timestamp,
		Signer:    r.SignerAddr,
	}
	if len(r.Signature) > 0 {
		entry.Signature = base64.StdEncoding.EncodeToString(r.Signature)
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := l.db.Put(entryKey(l.count), val); err != nil {
		return err
	}

	l.count++
	l.tip = r.ChainNext
	return l.putMeta()
}

// Get reads the receipt at index with its chain_next restored.
func (l *ReceiptLog) Get(index uint64) (*receipt.StepReceipt, error) {
	raw, err := l.db.Get(entryKey(index))
	if err != nil {
		return nil, err
	}
	var entry logEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("storage: corrupt receipt %d: %w", index, err)
	}
	r, err := receipt.ParseCore(entry.Core)
	if err != nil {
		return nil, err
	}
	r.ChainNext = khash.Digest(entry.ChainNext)
	r.Timestamp = entry.Timestamp
	r.SignerAddr = entry.Signer
	if entry.Signature != "" {
		sig, err := base64.StdEncoding.DecodeString(entry.Signature)
		if err != nil {
			return nil, fmt.Errorf("storage: corrupt signature at %d: %w", index, err)
		}
		r.Signature = sig
	}
	return r, nil
}

// All reads every receipt in order.
func (l *ReceiptLog) All() ([]*receipt.StepReceipt, error) {
	l.mu.Lock()
	count := l.count
	l.mu.Unlock()

	out := make([]*receipt.StepReceipt, 0, count)
	for i := uint64(0); i < count; i++ {
		r, err := l.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Len returns the number of published receipts.
func (l *ReceiptLog) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Tip returns the current chain tip.
func (l *ReceiptLog) Tip() khash.Digest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tip
}

func (l *ReceiptLog) putMeta() error {
	meta, err := json.Marshal(logMeta{Count: l.count, Tip: string(l.tip)})
	if err != nil {
		return err
	}
	return l.db.Put(metaKey, meta)
}

func entryKey(index uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = 'r'
	binary.BigEndian.PutUint64(key[1:], index)
	return key
}
