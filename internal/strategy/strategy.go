// Package strategy implements the two market-making policies (baseline
// and toxicity-aware) that consume a shared order book snapshot and emit
// two-sided quotes.
package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/HenryR2112/NYSE-XDP/internal/book"
)

// Config holds a strategy's tunable parameters. The zero value is not
// usable; construct with DefaultConfig and override individual fields.
type Config struct {
	BaseSpread float64
	MinSpread  float64
	MaxSpread  float64
	TickSize   float64

	BaseQuoteSize uint32
	MaxPosition   float64

	InventorySkewCoefficient float64
	ToxicitySpreadMultiplier float64
	ToxicityQuoteThreshold   float64
	OBIThreshold             float64

	FeePerShare float64

	// Expected-PnL model parameters (gate toxicity-variant quoting).
	MuAdverse       float64
	GammaRisk       float64
	FillProbability float64
}

// DefaultConfig returns the "elite HFT" calibration profile: sub-10us
// latency, top-of-book priority, gentle inventory skew, and a high
// toxicity-quote threshold (quote through almost everything).
func DefaultConfig() Config {
	return Config{
		BaseSpread:               0.01,
		MinSpread:                0.01,
		MaxSpread:                0.10,
		TickSize:                 book.TickSize,
		BaseQuoteSize:            1000,
		MaxPosition:              100000.0,
		InventorySkewCoefficient: 0.02,
		ToxicitySpreadMultiplier: 1.0,
		ToxicityQuoteThreshold:   0.75,
		OBIThreshold:             0.50,
		MuAdverse:                0.003,
		GammaRisk:                0.0005,
		FillProbability:          0.35,
	}
}

// Quote is the strategy's current two-sided market.
type Quote struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	BidSize  uint32
	AskSize  uint32
	IsQuoted bool
}

// Stats mirrors the original implementation's reporting surface.
type Stats struct {
	RealizedPnL        float64
	UnrealizedPnL      float64
	TotalFills         int64
	BuyFills           int64
	SellFills          int64
	TotalVolumeTraded  uint64
	AvgFillPriceBuy    float64
	AvgFillPriceSell   float64
	MaxInventory       float64
	MinInventory       float64
	QuotesSuppressed   int64
	AdverseFills       int64
}

// Strategy is one market-making policy instance bound to a single
// symbol's book. Two instances (baseline, toxicity) are run side by side
// against the same book by the per-symbol simulator.
type Strategy struct {
	cfg         Config
	useToxicity bool

	inventory     int64
	realizedPnL   float64
	unrealizedPnL float64
	avgEntryPrice float64

	quotes Quote
	stats  Stats

	hasOverride      bool
	overrideToxicity float64

	lastAvgToxicity float64
}

// New constructs a strategy instance. useToxicity selects the
// toxicity-aware variant (spread widening, OBI tilt, suppression).
func New(useToxicity bool, cfg Config) *Strategy {
	return &Strategy{cfg: cfg, useToxicity: useToxicity}
}

// SetOverrideToxicity injects the online model's prediction in place of
// the level-averaged toxicity score. Cleared with ClearOverrideToxicity.
func (s *Strategy) SetOverrideToxicity(toxicity float64) {
	s.hasOverride = true
	s.overrideToxicity = toxicity
}

// ClearOverrideToxicity reverts to computing avg_toxicity from the book
// snapshot's level toxicity scores.
func (s *Strategy) ClearOverrideToxicity() {
	s.hasOverride = false
}

// SetFeePerShare overrides the per-share net fee (maker rebate minus
// clearing fee, negative when the strategy is paid to provide liquidity).
func (s *Strategy) SetFeePerShare(fee float64) { s.cfg.FeePerShare = fee }

// SetToxicityThreshold overrides the avg-toxicity suppression threshold.
func (s *Strategy) SetToxicityThreshold(t float64) { s.cfg.ToxicityQuoteThreshold = t }

// SetToxicityMultiplier overrides the toxicity-driven spread multiplier.
func (s *Strategy) SetToxicityMultiplier(m float64) { s.cfg.ToxicitySpreadMultiplier = m }

// CurrentToxicity returns the avg_toxicity computed on the most recent
// UpdateMarketData call (the override value if one was set), for fill
// records that need a toxicity_at_fill value without the online model.
func (s *Strategy) CurrentToxicity() float64 { return s.lastAvgToxicity }

// Inventory returns the current signed position.
func (s *Strategy) Inventory() int64 { return s.inventory }

// Stats returns a copy of the strategy's running statistics, with the
// live realized/unrealized PnL folded in.
func (s *Strategy) Stats() Stats {
	st := s.stats
	st.RealizedPnL = s.realizedPnL
	st.UnrealizedPnL = s.unrealizedPnL
	return st
}

// Quotes returns the strategy's current two-sided market.
func (s *Strategy) Quotes() Quote { return s.quotes }

func (s *Strategy) roundToTick(price float64) float64 {
	return math.Round(price/s.cfg.TickSize) * s.cfg.TickSize
}

// avgToxicity averages level toxicity scores over the top three bid and
// top three ask levels of snap (spec-mandated 3+3, not the 5-level
// variant the hand-calibrated baseline used historically).
func avgToxicity(snap book.Snapshot) float64 {
	sum := 0.0
	count := 0
	for i := 0; i < len(snap.TopBidLevels) && i < 3; i++ {
		sum += snap.TopBidLevels[i].Toxicity.Score()
		count++
	}
	for i := 0; i < len(snap.TopAskLevels) && i < 3; i++ {
		sum += snap.TopAskLevels[i].Toxicity.Score()
		count++
	}
	if count == 0 {
		return 0.0
	}
	return sum / float64(count)
}

func (s *Strategy) toxicityAdjustedSpread(avgTox float64) float64 {
	if !s.useToxicity {
		return s.cfg.BaseSpread
	}
	adjusted := s.cfg.BaseSpread * (1.0 + avgTox*s.cfg.ToxicitySpreadMultiplier)
	if adjusted < s.cfg.MinSpread {
		return s.cfg.MinSpread
	}
	if adjusted > s.cfg.MaxSpread {
		return s.cfg.MaxSpread
	}
	return adjusted
}

// inventorySkew combines a linear and a quadratic penalty term so that
// skew grows faster as inventory approaches the position limit.
func (s *Strategy) inventorySkew() float64 {
	ratio := float64(s.inventory) / s.cfg.MaxPosition
	linear := -ratio * s.cfg.InventorySkewCoefficient
	quadratic := -0.5 * ratio * math.Abs(ratio) * s.cfg.InventorySkewCoefficient
	return linear + quadratic
}

// ExpectedPnL estimates the per-quote-interval profitability used to
// gate toxicity-variant quoting: expected maker edge from the spread,
// less the adverse-selection cost implied by current toxicity, less an
// inventory-risk penalty.
func (s *Strategy) ExpectedPnL(spread, toxicity, inventoryRisk float64) float64 {
	return s.cfg.FillProbability*(spread/2.0) - s.cfg.MuAdverse*toxicity - s.cfg.GammaRisk*inventoryRisk
}

// ShouldQuote reports whether expectedPnL clears the minimum-edge bar.
func (s *Strategy) ShouldQuote(expectedPnL float64) bool {
	return expectedPnL > 0.0005
}

// UpdateMarketData recomputes the strategy's quotes from a fresh book
// snapshot. Call on the configured quote_interval cadence.
func (s *Strategy) UpdateMarketData(snap book.Snapshot) {
	if !snap.Stats.HasBid || !snap.Stats.HasAsk {
		s.quotes.IsQuoted = false
		return
	}

	mid, _ := snap.Stats.Mid.Float64()

	avgTox := avgToxicity(snap)
	if s.hasOverride {
		avgTox = s.overrideToxicity
	}
	s.lastAvgToxicity = avgTox

	spread := s.toxicityAdjustedSpread(avgTox)
	halfSpread := spread / 2.0
	skew := s.inventorySkew()

	bid := s.roundToTick(mid - halfSpread + skew)
	ask := s.roundToTick(mid + halfSpread + skew)
	if bid >= ask {
		bid = s.roundToTick(mid - s.cfg.TickSize)
		ask = s.roundToTick(mid + s.cfg.TickSize)
	}

	ratio := float64(s.inventory) / s.cfg.MaxPosition
	absRatio := math.Abs(ratio)

	bidSize := s.cfg.BaseQuoteSize
	askSize := s.cfg.BaseQuoteSize
	switch {
	case absRatio > 0.7:
		if s.inventory > 0 {
			bidSize, askSize = 0, s.cfg.BaseQuoteSize*3
		} else if s.inventory < 0 {
			bidSize, askSize = s.cfg.BaseQuoteSize*3, 0
		}
	case absRatio > 0.3:
		if s.inventory > 0 {
			bidSize, askSize = s.cfg.BaseQuoteSize/2, s.cfg.BaseQuoteSize*2
		} else if s.inventory < 0 {
			bidSize, askSize = s.cfg.BaseQuoteSize*2, s.cfg.BaseQuoteSize/2
		}
	}

	isQuoted := true
	suppressed := false

	if s.useToxicity {
		bidQty, askQty := snap.Stats.TotalBidQty, snap.Stats.TotalAskQty
		if bidQty+askQty > 0 {
			obi := (float64(bidQty) - float64(askQty)) / (float64(bidQty) + float64(askQty))
			if obi > s.cfg.OBIThreshold {
				askSize /= 2
				ask = s.roundToTick(ask + s.cfg.TickSize)
			} else if obi < -s.cfg.OBIThreshold {
				bidSize /= 2
				bid = s.roundToTick(bid - s.cfg.TickSize)
			}
		}

		if avgTox > s.cfg.ToxicityQuoteThreshold {
			s.stats.QuotesSuppressed++
			suppressed = true
		}
		expectedPnL := s.ExpectedPnL(spread, avgTox, absRatio)
		if !s.ShouldQuote(expectedPnL) {
			s.stats.QuotesSuppressed++
			suppressed = true
		}
	}

	if suppressed {
		isQuoted = false
	}

	s.quotes = Quote{
		BidPrice: decimal.NewFromFloat(bid),
		AskPrice: decimal.NewFromFloat(ask),
		BidSize:  bidSize,
		AskSize:  askSize,
		IsQuoted: isQuoted,
	}

	s.updateUnrealizedPnL(snap)
}

func (s *Strategy) updateUnrealizedPnL(snap book.Snapshot) {
	mid, _ := snap.Stats.Mid.Float64()
	mark := mid
	if snap.LastTradedVol > 0 {
		if lt, _ := snap.LastTradedPrice.Float64(); lt > 0 {
			mark = lt
		}
	}

	switch {
	case s.inventory > 0:
		s.unrealizedPnL = (mark - s.avgEntryPrice) * float64(s.inventory)
	case s.inventory < 0:
		s.unrealizedPnL = (s.avgEntryPrice - mark) * float64(-s.inventory)
	default:
		s.unrealizedPnL = 0.0
	}
}

// OnFill updates inventory, average entry price, realized PnL, and fill
// statistics for a fill of qty shares at price on the given side.
func (s *Strategy) OnFill(isBuy bool, price decimal.Decimal, qty uint32) {
	priceF, _ := price.Float64()
	q := int64(qty)

	if isBuy {
		s.onBuyFill(priceF, q)
		s.stats.BuyFills++
		s.stats.AvgFillPriceBuy = (s.stats.AvgFillPriceBuy*float64(s.stats.BuyFills-1) + priceF) / float64(s.stats.BuyFills)
	} else {
		s.onSellFill(priceF, q)
		s.stats.SellFills++
		s.stats.AvgFillPriceSell = (s.stats.AvgFillPriceSell*float64(s.stats.SellFills-1) + priceF) / float64(s.stats.SellFills)
	}

	s.realizedPnL -= s.cfg.FeePerShare * float64(qty)

	s.stats.TotalFills++
	s.stats.TotalVolumeTraded += uint64(qty)

	invF := float64(s.inventory)
	if invF > s.stats.MaxInventory {
		s.stats.MaxInventory = invF
	}
	if invF < s.stats.MinInventory {
		s.stats.MinInventory = invF
	}
}

func (s *Strategy) onBuyFill(price float64, qty int64) {
	if s.inventory >= 0 {
		newPos := s.inventory + qty
		if newPos != 0 {
			s.avgEntryPrice = (s.avgEntryPrice*float64(s.inventory) + price*float64(qty)) / float64(newPos)
		} else {
			s.avgEntryPrice = 0.0
		}
		s.inventory = newPos
		return
	}

	coverQty := qty
	if -s.inventory < coverQty {
		coverQty = -s.inventory
	}
	s.realizedPnL += (s.avgEntryPrice - price) * float64(coverQty)
	s.inventory += coverQty

	remaining := qty - coverQty
	if s.inventory == 0 && remaining > 0 {
		s.inventory = remaining
		s.avgEntryPrice = price
	} else if s.inventory == 0 {
		s.avgEntryPrice = 0.0
	}
}

func (s *Strategy) onSellFill(price float64, qty int64) {
	if s.inventory <= 0 {
		newShortAbs := -s.inventory + qty
		if newShortAbs != 0 {
			s.avgEntryPrice = (s.avgEntryPrice*float64(-s.inventory) + price*float64(qty)) / float64(newShortAbs)
		} else {
			s.avgEntryPrice = 0.0
		}
		s.inventory -= qty
		return
	}

	closeQty := qty
	if s.inventory < closeQty {
		closeQty = s.inventory
	}
	s.realizedPnL += (price - s.avgEntryPrice) * float64(closeQty)
	s.inventory -= closeQty

	remaining := qty - closeQty
	if s.inventory == 0 && remaining > 0 {
		s.inventory = -remaining
		s.avgEntryPrice = price
	} else if s.inventory == 0 {
		s.avgEntryPrice = 0.0
	}
}

// Reset clears all mutable strategy state back to a fresh instance.
func (s *Strategy) Reset() {
	s.inventory = 0
	s.realizedPnL = 0.0
	s.unrealizedPnL = 0.0
	s.avgEntryPrice = 0.0
	s.quotes = Quote{}
	s.stats = Stats{}
	s.hasOverride = false
	s.overrideToxicity = 0.0
	s.lastAvgToxicity = 0.0
}
