package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/storage"
)

func chainOf(t *testing.T, n int) []*receipt.StepReceipt {
	t.Helper()
	tip := khash.GenesisZero
	out := make([]*receipt.StepReceipt, 0, n)
	for i := 0; i < n; i++ {
		r := &receipt.StepReceipt{
			SchemaID:           receipt.SchemaID,
			StepIndex:          uint64(i),
			ChainPrev:          tip,
			StateHashPrev:      khash.GenesisZero,
			StateHashNext:      khash.GenesisZero,
			ActionHash:         khash.GenesisZero,
			ProposalSetRoot:    khash.GenesisZero,
			ChosenProposalHash: khash.GenesisZero,
			ChosenPlanIndex:    -1,
			Decision:           receipt.Accepted,
			SeedCommit:         khash.GenesisZero,
		}
		require.NoError(t, r.FinalizeChainHash())
		out = append(out, r)
		tip = r.ChainNext
	}
	return out
}

func TestAppendGetRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	log, err := storage.OpenReceiptLog(db)
	require.NoError(t, err)

	chain := chainOf(t, 4)
	for _, r := range chain {
		r.Timestamp = 42
		r.SignerAddr = "gmk1test"
		r.Signature = []byte{9, 9}
		require.NoError(t, log.Append(r))
	}
	require.Equal(t, uint64(4), log.Len())
	require.Equal(t, chain[3].ChainNext, log.Tip())

	got, err := log.Get(2)
	require.NoError(t, err)
	require.Equal(t, chain[2].Core(), got.Core())
	require.Equal(t, chain[2].ChainNext, got.ChainNext)
	require.Equal(t, int64(42), got.Timestamp)
	require.Equal(t, "gmk1test", got.SignerAddr)
	require.Equal(t, []byte{9, 9}, got.Signature)

	all, err := log.All()
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestAppendRejectsChainDiscontinuity(t *testing.T) {
	db := storage.NewMemDB()
	log, err := storage.OpenReceiptLog(db)
	require.NoError(t, err)

	chain := chainOf(t, 2)
	require.NoError(t, log.Append(chain[0]))

	orphan := chainOf(t, 1)[0] // chain_prev is genesis, not the tip
	require.Error(t, log.Append(orphan))
	require.NoError(t, log.Append(chain[1]))
}

func TestReopenRestoresTip(t *testing.T) {
	db := storage.NewMemDB()
	log, err := storage.OpenReceiptLog(db)
	require.NoError(t, err)
	chain := chainOf(t, 3)
	for _, r := range chain {
		require.NoError(t, log.Append(r))
	}

	reopened, err := storage.OpenReceiptLog(db)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reopened.Len())
	require.Equal(t, chain[2].ChainNext, reopened.Tip())
}
