// Package output writes the three result artifacts spec.md §6 defines:
// per-fill CSV, per-symbol CSV, and (when online learning is enabled) an
// aggregate learned-weights JSON report. PCAP decoding, symbol-map
// parsing, and progress printing are external collaborators per spec.md
// §1; this package only serializes already-computed simulator state.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/sugawarayuuta/sonnet"

	"github.com/HenryR2112/NYSE-XDP/internal/model"
	"github.com/HenryR2112/NYSE-XDP/internal/sim"
)

// FillRow is one row of fills_group_K.csv.
type FillRow struct {
	Group           int
	SymbolIndex     uint32
	Ticker          string
	Strategy        string
	FillTimeNs      uint64
	FillPrice       float64
	FillQty         uint32
	IsBuy           bool
	MidPriceAtFill  float64
	ToxicityAtFill  float64
	AdverseMeasured bool
	AdversePnL      float64
	Features        model.FeatureVector
}

var fillHeader = []string{
	"group", "symbol", "ticker", "strategy", "fill_time_ns", "fill_price", "fill_qty",
	"is_buy", "mid_price_at_fill", "toxicity_at_fill", "adverse_measured", "adverse_pnl",
	"feature_0", "feature_1", "feature_2", "feature_3", "feature_4", "feature_5", "feature_6", "feature_7",
}

func (r FillRow) record() []string {
	rec := []string{
		strconv.Itoa(r.Group),
		strconv.FormatUint(uint64(r.SymbolIndex), 10),
		r.Ticker,
		r.Strategy,
		strconv.FormatUint(r.FillTimeNs, 10),
		strconv.FormatFloat(r.FillPrice, 'f', -1, 64),
		strconv.FormatUint(uint64(r.FillQty), 10),
		strconv.FormatBool(r.IsBuy),
		strconv.FormatFloat(r.MidPriceAtFill, 'f', -1, 64),
		strconv.FormatFloat(r.ToxicityAtFill, 'f', -1, 64),
		strconv.FormatBool(r.AdverseMeasured),
		strconv.FormatFloat(r.AdversePnL, 'f', -1, 64),
	}
	for _, f := range r.Features {
		rec = append(rec, strconv.FormatFloat(f, 'f', -1, 64))
	}
	return rec
}

// BuildFillRows converts one strategy's completed fills for one symbol
// into FillRows. strategyName is "baseline" or "toxicity".
func BuildFillRows(group int, symbolIndex uint32, ticker, strategyName string, fills []sim.FillRecord) []FillRow {
	rows := make([]FillRow, 0, len(fills))
	for _, f := range fills {
		rows = append(rows, FillRow{
			Group:           group,
			SymbolIndex:     symbolIndex,
			Ticker:          ticker,
			Strategy:        strategyName,
			FillTimeNs:      f.FillTimeNs,
			FillPrice:       f.FillPrice,
			FillQty:         f.FillQty,
			IsBuy:           f.IsBuy,
			MidPriceAtFill:  f.MidPriceAtFill,
			ToxicityAtFill:  f.ToxicityAtFill,
			AdverseMeasured: f.AdverseMeasured,
			AdversePnL:      f.AdversePnL,
			Features:        f.Features,
		})
	}
	return rows
}

// WriteFillsCSV writes rows to path with the fills_group_K.csv header.
func WriteFillsCSV(path string, rows []FillRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(fillHeader); err != nil {
		return fmt.Errorf("output: write header %s: %w", path, err)
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return fmt.Errorf("output: write row %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// SymbolRow is one row of symbols_group_K.csv.
type SymbolRow struct {
	Group               int
	SymbolIndex         uint32
	Ticker              string
	BaselinePnL         float64
	ToxicityPnL         float64
	Improvement         float64
	BaselineFills       int64
	ToxicityFills       int64
	QuotesSuppressed    int64
	BaselineAdversePnL  float64
	ToxicityAdversePnL  float64
	BaselineInvVariance float64
	ToxicityInvVariance float64
}

var symbolHeader = []string{
	"group", "symbol_index", "ticker", "baseline_pnl", "toxicity_pnl", "improvement",
	"baseline_fills", "toxicity_fills", "quotes_suppressed", "baseline_adverse_pnl",
	"toxicity_adverse_pnl", "baseline_inv_var", "toxicity_inv_var",
}

func (r SymbolRow) record() []string {
	return []string{
		strconv.Itoa(r.Group),
		strconv.FormatUint(uint64(r.SymbolIndex), 10),
		r.Ticker,
		strconv.FormatFloat(r.BaselinePnL, 'f', -1, 64),
		strconv.FormatFloat(r.ToxicityPnL, 'f', -1, 64),
		strconv.FormatFloat(r.Improvement, 'f', -1, 64),
		strconv.FormatInt(r.BaselineFills, 10),
		strconv.FormatInt(r.ToxicityFills, 10),
		strconv.FormatInt(r.QuotesSuppressed, 10),
		strconv.FormatFloat(r.BaselineAdversePnL, 'f', -1, 64),
		strconv.FormatFloat(r.ToxicityAdversePnL, 'f', -1, 64),
		strconv.FormatFloat(r.BaselineInvVariance, 'f', -1, 64),
		strconv.FormatFloat(r.ToxicityInvVariance, 'f', -1, 64),
	}
}

// BuildSymbolRow summarizes one symbol's simulator into a SymbolRow.
func BuildSymbolRow(group int, p *sim.PerSymbolSim) SymbolRow {
	baseStats := p.MMBaseline.Stats()
	toxStats := p.MMToxicity.Stats()
	basePnL := baseStats.RealizedPnL + baseStats.UnrealizedPnL + p.BaselineRisk.TotalAdversePnL
	toxPnL := toxStats.RealizedPnL + toxStats.UnrealizedPnL + p.ToxicityRisk.TotalAdversePnL

	return SymbolRow{
		Group:               group,
		SymbolIndex:         p.SymbolIndex(),
		Ticker:              p.Ticker(),
		BaselinePnL:         basePnL,
		ToxicityPnL:         toxPnL,
		Improvement:         toxPnL - basePnL,
		BaselineFills:       p.BaselineRisk.TotalFills,
		ToxicityFills:       p.ToxicityRisk.TotalFills,
		QuotesSuppressed:    toxStats.QuotesSuppressed,
		BaselineAdversePnL:  p.BaselineRisk.TotalAdversePnL,
		ToxicityAdversePnL:  p.ToxicityRisk.TotalAdversePnL,
		BaselineInvVariance: p.BaselineRisk.InventoryVariance(),
		ToxicityInvVariance: p.ToxicityRisk.InventoryVariance(),
	}
}

// WriteSymbolsCSV writes rows to path with the symbols_group_K.csv header.
func WriteSymbolsCSV(path string, rows []SymbolRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(symbolHeader); err != nil {
		return fmt.Errorf("output: write header %s: %w", path, err)
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return fmt.Errorf("output: write row %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// SymbolWeights is one symbol's learned-model snapshot within the
// learned-weights JSON report.
type SymbolWeights struct {
	SymbolIndex uint32               `json:"symbol_index"`
	Ticker      string               `json:"ticker"`
	Weights     model.FeatureVector  `json:"weights"`
	Bias        float64              `json:"bias"`
	NUpdates    int                  `json:"n_updates"`
}

// LearnedWeights is the learned_weights.json document: an
// update-count-weighted aggregate vector plus every symbol's individual
// weights. One document is written per run, covering the symbols of all
// groups; it is not split per group.
type LearnedWeights struct {
	AggregateWeights model.FeatureVector `json:"aggregate_weights"`
	AggregateBias    float64             `json:"aggregate_bias"`
	TotalUpdates     int                 `json:"total_updates"`
	Symbols          []SymbolWeights     `json:"symbols"`
}

// BuildLearnedWeights aggregates every symbol's online model into a single
// report, weighting each symbol's contribution by its update count (a
// symbol with more measured fills has a more reliable trained vector).
func BuildLearnedWeights(symbols []*sim.PerSymbolSim) LearnedWeights {
	var lw LearnedWeights
	for _, p := range symbols {
		if p.OnlineModel == nil {
			continue
		}
		n := p.OnlineModel.NUpdates()
		lw.Symbols = append(lw.Symbols, SymbolWeights{
			SymbolIndex: p.SymbolIndex(),
			Ticker:      p.Ticker(),
			Weights:     p.OnlineModel.Weights(),
			Bias:        p.OnlineModel.Bias(),
			NUpdates:    n,
		})
		lw.TotalUpdates += n
	}

	if lw.TotalUpdates == 0 {
		return lw
	}
	for _, sw := range lw.Symbols {
		weight := float64(sw.NUpdates) / float64(lw.TotalUpdates)
		for i := 0; i < model.NumFeatures; i++ {
			lw.AggregateWeights[i] += sw.Weights[i] * weight
		}
		lw.AggregateBias += sw.Bias * weight
	}
	return lw
}

// WriteLearnedWeights marshals lw to path as JSON via sonnet (a fast
// encoding/json-compatible encoder; see the teacher pack's
// codewanderer42820-evm_triarb for the same drop-in usage).
func WriteLearnedWeights(path string, lw LearnedWeights) error {
	data, err := sonnet.Marshal(lw)
	if err != nil {
		return fmt.Errorf("output: marshal learned weights: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}
