package episode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/env/gridworld"
	"github.com/cohkernel/gmk/kernel/episode"
	"github.com/cohkernel/gmk/kernel/options"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/state"
)

func testParams() *state.Parameters {
	return &state.Parameters{
		Version:    "v1",
		Rows:       4,
		Cols:       4,
		RhoMax:     8,
		WGradTheta: 1 << 18,
		WC:         1 << 18,
		WBudget:    0,
		BMax:       64 << 18,
		DC:         1 << 16,
		LambdaC:    1 << 15,
		AlphaTau:   1 << 17,
		AbsorbOnB0: true,
		TickCostQ:  1 << 10,
		MoveCostQ:  1 << 8,
		MMax:       2,
		HMax:       2,
		BUnit:      8 << 18,
		HUnit:      4 << 18,
	}
}

type memSink struct {
	receipts []*receipt.StepReceipt
}

func (m *memSink) Append(r *receipt.StepReceipt) error {
	m.receipts = append(m.receipts, r)
	return nil
}

func newEpisode(t *testing.T, seed []byte) (*episode.Episode, *memSink) {
	t.Helper()
	world, err := gridworld.New(gridworld.Default())
	require.NoError(t, err)
	sink := &memSink{}
	ep, err := episode.New(episode.Config{
		Params:   testParams(),
		Env:      world,
		Proposer: proposer.NewReference(3),
		Safety:   world,
		Seed:     seed,
		Sink:     sink,
	})
	require.NoError(t, err)
	return ep, sink
}

// One receipt per tick, chain continuity from genesis.
func TestChainContinuity(t *testing.T) {
	ep, sink := newEpisode(t, []byte("seed-a"))
	receipts, err := ep.Run(context.Background(), 12)
	require.NoError(t, err)
	require.NotEmpty(t, receipts)
	require.Equal(t, len(receipts), len(sink.receipts))

	for i, r := range receipts {
		if i == 0 {
			require.Equal(t, "sha256:0000000000000000000000000000000000000000000000000000000000000000",
				string(r.ChainPrev))
			continue
		}
		require.Equal(t, receipts[i-1].ChainNext, r.ChainPrev, "tick %d", i)
	}
}

// Determinism: identical seeds produce byte-identical chains; a
// different seed diverges by step 1.
func TestDeterministicReplayAcrossSeeds(t *testing.T) {
	ep1, _ := newEpisode(t, []byte("seed-a"))
	run1, err := ep1.Run(context.Background(), 10)
	require.NoError(t, err)

	ep2, _ := newEpisode(t, []byte("seed-a"))
	run2, err := ep2.Run(context.Background(), 10)
	require.NoError(t, err)

	require.Equal(t, len(run1), len(run2))
	for i := range run1 {
		require.Equal(t, run1[i].ChainNext, run2[i].ChainNext, "tick %d", i)
		require.Equal(t, run1[i].Core(), run2[i].Core(), "tick %d", i)
	}

	ep3, _ := newEpisode(t, []byte("seed-b"))
	run3, err := ep3.Run(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, run3)
	require.NotEqual(t, run1[0].ChainNext, run3[0].ChainNext)
}

// Every post-step state stays in K and the budget is non-increasing.
func TestRunInvariants(t *testing.T) {
	ep, _ := newEpisode(t, []byte("seed-c"))
	p := testParams()
	prevB := ep.State().B
	for i := 0; i < 16; i++ {
		_, err := ep.Tick(context.Background())
		if err == episode.ErrDone {
			break
		}
		require.NoError(t, err)
		require.True(t, state.InK(ep.State(), p), "tick %d", i)
		require.LessOrEqual(t, ep.State().B, prevB, "tick %d", i)
		prevB = ep.State().B
	}
}

// Accepted and rejected ticks both advance logical time.
func TestTimeAdvancesEveryTick(t *testing.T) {
	ep, _ := newEpisode(t, []byte("seed-d"))
	for i := 0; i < 8; i++ {
		before := ep.State().T
		_, err := ep.Tick(context.Background())
		if err == episode.ErrDone {
			break
		}
		require.NoError(t, err)
		require.Equal(t, before+1, ep.State().T)
	}
}

func TestRunOptionEmitsMarkers(t *testing.T) {
	ep, _ := newEpisode(t, []byte("seed-e"))
	p := testParams()
	omega := &options.Option{
		Name:     "hold",
		Policy:   func(s *state.State) *state.Action { return state.Zero(p.Rows, p.Cols) },
		MaxSteps: 3,
	}
	tr, err := ep.RunOption(omega)
	require.NoError(t, err)
	require.Equal(t, options.KindStart, tr.Start.Kind)
	require.Equal(t, options.KindEnd, tr.End.Kind)
	require.NotEmpty(t, tr.Steps)
	require.Equal(t, "hold", tr.Start.Name)

	// Internal steps are ordinary chained receipts.
	all := ep.Receipts()
	require.GreaterOrEqual(t, len(all), len(tr.Steps))
}
