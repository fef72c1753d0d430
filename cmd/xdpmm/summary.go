package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/HenryR2112/NYSE-XDP/internal/dispatch"
	"github.com/HenryR2112/NYSE-XDP/internal/orchestrator"
	"github.com/HenryR2112/NYSE-XDP/internal/output"
	"github.com/HenryR2112/NYSE-XDP/internal/sim"
)

// writeOutputs writes one fills/symbols CSV pair per group plus a single
// run-wide learned-weights JSON report, per spec.md §6.
func writeOutputs(dir string, results []orchestrator.GroupResult, allSymbols []*sim.PerSymbolSim) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}

	for _, r := range results {
		if r.Table == nil {
			continue
		}

		var fillRows []output.FillRow
		var symbolRows []output.SymbolRow
		for _, p := range r.Table.Symbols() {
			fillRows = append(fillRows, output.BuildFillRows(r.Index, p.SymbolIndex(), p.Ticker(), "baseline", p.BaselineCompletedFills)...)
			fillRows = append(fillRows, output.BuildFillRows(r.Index, p.SymbolIndex(), p.Ticker(), "toxicity", p.ToxicityCompletedFills)...)
			symbolRows = append(symbolRows, output.BuildSymbolRow(r.Index, p))
		}

		fillsPath := filepath.Join(dir, fmt.Sprintf("fills_group_%d.csv", r.Index))
		if err := output.WriteFillsCSV(fillsPath, fillRows); err != nil {
			return err
		}
		symbolsPath := filepath.Join(dir, fmt.Sprintf("symbols_group_%d.csv", r.Index))
		if err := output.WriteSymbolsCSV(symbolsPath, symbolRows); err != nil {
			return err
		}
	}

	lw := output.BuildLearnedWeights(allSymbols)
	if lw.TotalUpdates > 0 {
		if err := output.WriteLearnedWeights(filepath.Join(dir, "learned_weights.json"), lw); err != nil {
			return err
		}
	}
	return nil
}

// printSummary prints the run-wide report spec.md §6 describes: top/
// bottom-5 symbols by toxicity-strategy improvement, portfolio PnL, the
// adverse-selection breakdown, and execution/drop counters.
func printSummary(syms []*sim.PerSymbolSim, dropped dispatch.Counters, skippedFiles int) {
	rows := make([]output.SymbolRow, 0, len(syms))
	for _, p := range syms {
		rows = append(rows, output.BuildSymbolRow(0, p))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Improvement > rows[j].Improvement })

	fmt.Printf("Processed %d symbols across %d group(s), %d file(s) skipped\n", len(rows), len(groupIndices(syms)), skippedFiles)

	fmt.Println("\nTop 5 by toxicity-strategy improvement:")
	printRows(headRows(rows, 5))
	fmt.Println("\nBottom 5 by toxicity-strategy improvement:")
	printRows(tailRows(rows, 5))

	var basePnL, toxPnL, baseAdverse, toxAdverse float64
	var baseFills, toxFills, suppressed int64
	for _, r := range rows {
		basePnL += r.BaselinePnL
		toxPnL += r.ToxicityPnL
		baseAdverse += r.BaselineAdversePnL
		toxAdverse += r.ToxicityAdversePnL
		baseFills += r.BaselineFills
		toxFills += r.ToxicityFills
		suppressed += r.QuotesSuppressed
	}

	fmt.Printf("\nPortfolio PnL: baseline=%.2f toxicity=%.2f improvement=%.2f\n", basePnL, toxPnL, toxPnL-basePnL)
	fmt.Printf("Adverse selection charged: baseline=%.2f toxicity=%.2f\n", baseAdverse, toxAdverse)
	fmt.Printf("Execution: baseline_fills=%d toxicity_fills=%d quotes_suppressed=%d\n", baseFills, toxFills, suppressed)
	fmt.Printf("Dropped: unknown_type=%d out_of_range=%d unmapped=%d filtered=%d truncated=%d\n",
		dropped.UnknownMessageType, dropped.OutOfRange, dropped.Unmapped, dropped.FilteredOut, dropped.Truncated)
}

func groupIndices(syms []*sim.PerSymbolSim) map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(syms))
	for _, p := range syms {
		set[p.SymbolIndex()] = struct{}{}
	}
	return set
}

func headRows(rows []output.SymbolRow, n int) []output.SymbolRow {
	if len(rows) < n {
		n = len(rows)
	}
	return rows[:n]
}

func tailRows(rows []output.SymbolRow, n int) []output.SymbolRow {
	if len(rows) < n {
		n = len(rows)
	}
	return rows[len(rows)-n:]
}

func printRows(rows []output.SymbolRow) {
	for _, r := range rows {
		fmt.Printf("  %-8s baseline=%9.2f toxicity=%9.2f improvement=%9.2f\n", r.Ticker, r.BaselinePnL, r.ToxicityPnL, r.Improvement)
	}
}
