// Command gmkrun drives one kernel episode against the example
// gridworld, persisting receipts to a leveldb-backed log and exposing
// ops endpoints for the host process.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cohkernel/gmk/config"
	"github.com/cohkernel/gmk/crypto"
	"github.com/cohkernel/gmk/env/gridworld"
	"github.com/cohkernel/gmk/internal/opsserver"
	"github.com/cohkernel/gmk/kernel/episode"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/retention"
	"github.com/cohkernel/gmk/observability"
	"github.com/cohkernel/gmk/observability/logging"
	"github.com/cohkernel/gmk/persist"
	"github.com/cohkernel/gmk/storage"
)

func main() {
	configPath := flag.String("config", "gmk.toml", "path to the host configuration file")
	ticks := flag.Int("ticks", 64, "maximum ticks to run")
	seedHex := flag.String("seed", "", "episode seed (hex); derived from the episode id when empty")
	postgresDSN := flag.String("postgres-dsn", "", "postgres DSN for the retention registries; in-memory when empty")
	flag.Parse()

	if err := run(*configPath, *ticks, *seedHex, *postgresDSN); err != nil {
		fmt.Fprintln(os.Stderr, "gmkrun:", err)
		os.Exit(1)
	}
}

func run(configPath string, ticks int, seedHex, postgresDSN string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	logger := logging.SetupWithRotation(filepath.Join(cfg.DataDir, "gmkrun.log"), cfg.LogService, cfg.LogEnv)

	episodeID := uuid.NewString()
	seed, err := resolveSeed(seedHex, episodeID)
	if err != nil {
		return err
	}

	scenario := gridworld.Default()
	if cfg.ScenarioYML != "" {
		scenario, err = gridworld.LoadScenario(cfg.ScenarioYML)
		if err != nil {
			return err
		}
	}
	world, err := gridworld.New(scenario)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "episode-"+episodeID))
	if err != nil {
		return err
	}
	defer db.Close()
	log, err := storage.OpenReceiptLog(db)
	if err != nil {
		return err
	}

	signer, err := crypto.NewSigner()
	if err != nil {
		return err
	}
	sink := &signingSink{log: log, signer: signer}

	if cfg.OpsAddress != "" {
		go func() {
			if err := opsserver.Serve(cfg.OpsAddress, cfg.LogService); err != nil {
				logger.Error("ops server stopped", "error", err.Error())
			}
		}()
	}

	params := cfg.Params.ToKernel()
	ep, err := episode.New(episode.Config{
		Params:   params,
		Env:      world,
		Proposer: proposer.NewReference(3),
		Safety:   world,
		Seed:     seed,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("episode starting", "component", "gmkrun", "episode_id", episodeID)

	metrics := observability.Kernel()
	ctx := context.Background()
	var last *receipt.StepReceipt
	for i := 0; i < ticks; i++ {
		start := time.Now()
		r, err := ep.Tick(ctx)
		if errors.Is(err, episode.ErrDone) {
			break
		}
		if err != nil {
			return err
		}
		metrics.ObserveTick(string(r.Decision), string(r.RejectCode), time.Since(start))
		metrics.RecordState(r.BNextQ, r.VNextQ)
		observability.Events().RecordReceipt(r.SchemaID)
		last = r
	}

	if last != nil {
		logger.Info("episode finished",
			"step", fmt.Sprint(last.StepIndex),
			"decision", string(last.Decision),
			"chain_next", string(last.ChainNext),
		)
	}
	if log.Len() > 0 {
		if err := retireSlab(cfg, logger, log, postgresDSN); err != nil {
			return err
		}
	}
	fmt.Printf("episode %s: %d receipts, tip %s\n", episodeID, log.Len(), log.Tip())
	return nil
}

// retireSlab runs the episode's receipts through the full slab
// lifecycle: register, activate, finalize once the retention period
// has elapsed (heights here are one block per tick), cold-archive to
// parquet, then authorize deletion from the live store. With a
// -postgres-dsn the registries are SQL-backed; otherwise in-memory.
func retireSlab(cfg *config.Config, logger *slog.Logger, log *storage.ReceiptLog, postgresDSN string) error {
	receipts, err := log.All()
	if err != nil {
		return err
	}

	var store retention.Store = retention.NewMemStore()
	if postgresDSN != "" {
		sqlStore, err := persist.OpenSQLStore(postgresDSN)
		if err != nil {
			return err
		}
		store = sqlStore
	}

	policy := &retention.Policy{
		Version:               "gmk-retention-v1",
		RetentionPeriodBlocks: 8,
		DisputeWindowBlocks:   4,
		DeletionAuthorization: retention.DeletionAuthorization{
			NoDisputes:        true,
			WindowEndVerified: true,
		},
	}
	policyID, err := store.RegisterPolicy(policy)
	if err != nil {
		return err
	}
	observability.Events().RecordSlab(string(policyID))

	windowEnd := uint64(len(receipts))
	slab, _, err := receipt.BuildSlab(receipts, 1, 0, windowEnd, policyID)
	if err != nil {
		return err
	}
	if err := retention.Register(store, slab); err != nil {
		return err
	}

	metrics := observability.Retention()
	finalHeight := policy.FinalizeHeight(windowEnd)
	st, err := retention.Advance(store, slab.SlabID, finalHeight)
	if err != nil {
		return err
	}
	metrics.ObserveTransition(string(st))

	fin := &retention.FinalizeReceipt{
		SchemaID:        retention.FinalizeSchemaID,
		SlabID:          slab.SlabID,
		WindowEndHeight: windowEnd,
		BudgetQ:         receipts[len(receipts)-1].BNextQ,
	}
	ok, code, err := retention.Finalize(store, fin, finalHeight)
	if err != nil {
		return err
	}
	metrics.ObserveFinalize(string(code))
	if !ok {
		logger.Warn("slab finalize refused", "slab_id", fmt.Sprint(slab.SlabID), "reason", string(code))
		return nil
	}
	metrics.ObserveTransition(string(retention.Finalized))

	// Cold-archive before the live store forgets the slab: deletion
	// means archived, not gone.
	archivePath := filepath.Join(cfg.DataDir, fmt.Sprintf("slab-%d.parquet", slab.SlabID))
	if err := persist.ArchiveSlab(archivePath, receipts); err != nil {
		return err
	}

	ok, code, err = retention.AuthorizeDeletion(store, slab.SlabID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("slab deletion refused", "slab_id", fmt.Sprint(slab.SlabID), "reason", string(code))
		return nil
	}
	metrics.ObserveTransition(string(retention.Deleted))
	logger.Info("slab archived",
		"slab_id", fmt.Sprint(slab.SlabID),
		"state", string(retention.Deleted),
		"path", archivePath,
	)
	return nil
}

// resolveSeed parses the -seed flag, defaulting to a digest of the
// episode id so every unnamed run is still fully reproducible given
// its printed id.
func resolveSeed(seedHex, episodeID string) ([]byte, error) {
	if seedHex == "" {
		sum := sha256.Sum256([]byte(episodeID))
		return sum[:], nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid -seed: %w", err)
	}
	return seed, nil
}

// signingSink stamps the transport envelope (timestamp, signer,
// signature) before appending; none of it feeds a hash.
type signingSink struct {
	log    *storage.ReceiptLog
	signer *crypto.Signer
}

func (s *signingSink) Append(r *receipt.StepReceipt) error {
	r.Timestamp = time.Now().Unix()
	r.SignerAddr = s.signer.Address().String()
	leaf, err := r.Leaf()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(leaf)
	sig, err := s.signer.Sign(digest[:])
	if err != nil {
		return err
	}
	r.Signature = sig
	return s.log.Append(r)
}

var _ episode.ReceiptSink = (*signingSink)(nil)
