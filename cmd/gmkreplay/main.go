// Command gmkreplay re-derives an episode from its parameters and seed
// and compares every receipt against a persisted log, reporting the
// first divergent field.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/cohkernel/gmk/config"
	"github.com/cohkernel/gmk/env/gridworld"
	"github.com/cohkernel/gmk/kernel/episode"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/replay"
	"github.com/cohkernel/gmk/observability"
	"github.com/cohkernel/gmk/observability/logging"
	"github.com/cohkernel/gmk/storage"
)

func main() {
	configPath := flag.String("config", "gmk.toml", "path to the host configuration file")
	dbPath := flag.String("db", "", "path to the episode's receipt database")
	seedHex := flag.String("seed", "", "episode seed (hex), as used by the original run")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "gmkreplay: -db is required")
		os.Exit(2)
	}
	if err := run(*configPath, *dbPath, *seedHex); err != nil {
		fmt.Fprintln(os.Stderr, "gmkreplay:", err)
		os.Exit(1)
	}
	fmt.Println("replay ok")
}

func run(configPath, dbPath, seedHex string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup("gmkreplay", cfg.LogEnv)

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return fmt.Errorf("invalid -seed: %w", err)
	}

	db, err := storage.NewLevelDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log, err := storage.OpenReceiptLog(db)
	if err != nil {
		return err
	}
	recorded, err := log.All()
	if err != nil {
		return err
	}
	if len(recorded) == 0 {
		return fmt.Errorf("receipt log at %s is empty", dbPath)
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

	ep, err := episode.New(episode.Config{
		Params:   cfg.Params.ToKernel(),
		Env:      world,
		Proposer: proposer.NewReference(3),
		Safety:   world,
		Seed:     seed,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	recomputed, err := ep.Run(context.Background(), len(recorded))
	if err != nil {
		return err
	}

	metrics := observability.Replay()
	if err := replay.CompareLogs(recorded, recomputed); err != nil {
		metrics.ObserveRun(false)
		var div *replay.DivergenceError
		if errors.As(err, &div) {
			metrics.ObserveDivergence(div.Field)
		}
		return err
	}
	metrics.ObserveRun(true)
	logger.Info("replay verified",
		"step", fmt.Sprint(len(recorded)),
		"chain_next", string(recorded[len(recorded)-1].ChainNext),
	)
	return nil
}
