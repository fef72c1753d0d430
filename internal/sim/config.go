// Package sim implements the per-symbol simulator: a shared order book
// driving two market-maker strategy instances through virtual resting
// orders with latency, queue position, and adverse-selection accounting.
package sim

// FillMode selects how a resting virtual order is checked for price
// eligibility against an incoming EXECUTE.
type FillMode int

const (
	// FillModeCross fills whenever the quote crosses the execution price
	// (bid >= exec for bids, ask <= exec for asks) — the realistic mode.
	FillModeCross FillMode = iota
	// FillModeMatch requires the quote to equal the execution price to
	// within 1e-12, a stricter legacy mode kept for comparison runs.
	FillModeMatch
)

// ExecutionModelConfig is the elite-HFT latency/queue/fee/risk calibration
// shared by every symbol's simulator, overridable per field from the CLI.
type ExecutionModelConfig struct {
	Seed uint64

	LatencyUsMean          float64
	LatencyUsJitter        float64
	QuoteUpdateIntervalUs  uint64

	QueuePositionFraction float64
	QueuePositionVariance float64

	AdverseLookforwardUs       uint64
	AdverseSelectionMultiplier float64

	QuoteExposureWindowUs uint64

	MakerRebatePerShare   float64
	TakerFeePerShare      float64
	ClearingFeePerShare   float64

	MaxPositionPerSymbol float64
	MaxDailyLossPerSymbol float64
	MaxPortfolioLoss       float64

	MinSpreadToTrade float64
	MaxSpreadToTrade float64
	MinDepthToTrade  uint32

	FillMode FillMode
}

// DefaultExecutionModelConfig mirrors the "Elite HFT with FPGA, microwave
// links, and top-of-book priority" calibration: sub-10us latency, near
// front-of-queue positioning, and excellent adverse-selection hedging.
func DefaultExecutionModelConfig() ExecutionModelConfig {
	return ExecutionModelConfig{
		Seed:                  42,
		LatencyUsMean:         5.0,
		LatencyUsJitter:       1.0,
		QuoteUpdateIntervalUs: 10,

		QueuePositionFraction: 0.005,
		QueuePositionVariance: 0.1,

		AdverseLookforwardUs:       250,
		AdverseSelectionMultiplier: 0.03,

		QuoteExposureWindowUs: 10,

		MakerRebatePerShare: 0.0025,
		TakerFeePerShare:    0.003,
		ClearingFeePerShare: 0.00008,

		MaxPositionPerSymbol:  50000.0,
		MaxDailyLossPerSymbol: 5000.0,
		MaxPortfolioLoss:      500000.0,

		MinSpreadToTrade: 0.01,
		MaxSpreadToTrade: 0.20,
		MinDepthToTrade:  100,

		FillMode: FillModeCross,
	}
}

// Config aggregates the execution model with the CLI-level run parameters
// that are not per-symbol: output directory, online learning, and the
// toxicity-strategy overrides (zero means "use the strategy default").
type Config struct {
	Exec ExecutionModelConfig

	OutputDir string

	OnlineLearning bool
	LearningRate   float64
	WarmupFills    int

	ToxicityThreshold  float64
	ToxicityMultiplier float64
}

// DefaultConfig returns Config with the default execution model and
// learning disabled.
func DefaultConfig() Config {
	return Config{
		Exec:         DefaultExecutionModelConfig(),
		LearningRate: 0.01,
		WarmupFills:  50,
	}
}
