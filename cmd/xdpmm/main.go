// Command xdpmm replays NYSE XDP capture files through a market-making
// simulation comparing a baseline strategy against a toxicity-aware one,
// per spec.md. Flag parsing and subcommand dispatch are deliberately thin
// — everything past that lives in internal/, matching the teacher's own
// cmd/ convention of a small main.go delegating to its service packages.
package main

import (
	"fmt"
	"os"

	"github.com/HenryR2112/NYSE-XDP/internal/checkpoint"
	"github.com/HenryR2112/NYSE-XDP/internal/config"
	"github.com/HenryR2112/NYSE-XDP/internal/logging"
	"github.com/HenryR2112/NYSE-XDP/internal/orchestrator"
	"github.com/HenryR2112/NYSE-XDP/internal/symbolmap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "inspect" {
		if err := runInspect(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "xdpmm inspect:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "xdpmm:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}

	log, logErr := logging.New(cfg.LogLevel)
	if logErr != nil {
		log = logging.Fallback()
	}
	defer log.Sync()

	symbols := symbolmap.New()
	if cfg.SymbolFile == "" {
		log.Warn("no symbol map given; every symbol_index is treated as unmapped and its messages are dropped")
	} else {
		loaded, err := symbolmap.Load(cfg.SymbolFile)
		if err != nil {
			wrapped := fmt.Errorf("load symbol map %s: %w", cfg.SymbolFile, err)
			logging.FatalStartup(log, "symbol map load", wrapped)
			return wrapped
		}
		symbols = loaded
	}

	mode := orchestrator.ModeHybrid
	switch {
	case cfg.Sequential:
		mode = orchestrator.ModeSequential
	case cfg.NoHybrid:
		mode = orchestrator.ModeThreaded
	}

	orch := orchestrator.New(symbols, cfg.ToSimConfig(), cfg.Ticker, log)

	if cfg.CheckpointDir != "" {
		store, err := checkpoint.Open(cfg.CheckpointDir)
		if err != nil {
			wrapped := fmt.Errorf("open checkpoint store %s: %w", cfg.CheckpointDir, err)
			logging.FatalStartup(log, "checkpoint store open", wrapped)
			return wrapped
		}
		defer store.Close()
		orch.Checkpoints = store
		orch.CheckpointEveryN = cfg.CheckpointEveryN
		orch.Resume = cfg.Resume
	}

	results, err := orch.Run(cfg.Files, mode, cfg.FilesPerGroup, cfg.Threads)
	if err != nil {
		logging.FatalStartup(log, "orchestrator run", err)
		return err
	}

	syms, dropped, skipped := orchestrator.Aggregate(results)

	if cfg.OutputDir != "" {
		if err := writeOutputs(cfg.OutputDir, results, syms); err != nil {
			logging.FatalStartup(log, "write outputs", err)
			return err
		}
	}

	printSummary(syms, dropped, len(skipped))
	return nil
}
