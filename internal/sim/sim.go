package sim

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/HenryR2112/NYSE-XDP/internal/book"
	"github.com/HenryR2112/NYSE-XDP/internal/metrics"
	"github.com/HenryR2112/NYSE-XDP/internal/model"
	"github.com/HenryR2112/NYSE-XDP/internal/risk"
	"github.com/HenryR2112/NYSE-XDP/internal/strategy"
	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

const (
	cleanupIntervalNs = 10 * 1_000_000_000
	maxOrderAgeNs      = 60 * 1_000_000_000
	pendingFillsHardCap = 10000
	pendingFillsPruneTo = 5000
)

// PerSymbolSim is the simulation state for one symbol: a shared order
// book, two market-maker strategy instances competing against it, virtual
// resting orders modeling latency and queue position, and the risk and
// adverse-selection tracking for each strategy. Not safe for concurrent
// use; callers must serialize access per symbol (the 64-way sharded lock
// in internal/dispatch does this).
type PerSymbolSim struct {
	Book       *book.Book
	MMBaseline *strategy.Strategy
	MMToxicity *strategy.Strategy

	orderInfo     map[uint64]orderInfo
	lastCleanupNs uint64

	initialized     bool
	eligibleToTrade bool
	symbolIndex     uint32
	cachedTicker    string
	rng             *rand.Rand

	baselineState     StrategyExecState
	toxicityState     StrategyExecState
	lastQuoteUpdateNs uint64

	BaselineRisk risk.State
	ToxicityRisk risk.State

	baselinePendingFills   []FillRecord
	toxicityPendingFills   []FillRecord
	BaselineCompletedFills []FillRecord
	ToxicityCompletedFills []FillRecord

	OnlineModel     *model.Model
	tradeFlow       model.TradeFlowTracker
	spreadTracker   model.SpreadTracker
	momentumTracker model.MomentumTracker

	config Config
}

// New constructs an uninitialized simulator over a fresh book and the two
// default-configured strategy instances. Call EnsureInit before driving
// any events through it.
func New() *PerSymbolSim {
	b := book.New()
	return &PerSymbolSim{
		Book:       b,
		MMBaseline: strategy.New(false, strategy.DefaultConfig()),
		MMToxicity: strategy.New(true, strategy.DefaultConfig()),
		orderInfo:  make(map[uint64]orderInfo),
	}
}

// EnsureInit binds this simulator to a concrete symbol index and run
// configuration. Subsequent calls are no-ops; the per-symbol table
// construction lazily initializes each slot on first reference.
func (p *PerSymbolSim) EnsureInit(idx uint32, ticker string, cfg Config) {
	if p.initialized {
		return
	}
	p.initialized = true
	p.symbolIndex = idx
	p.config = cfg
	p.cachedTicker = ticker

	seed := cfg.Exec.Seed ^ (uint64(idx) * 0x9E3779B97F4A7C15)
	p.rng = rand.New(rand.NewSource(int64(seed)))

	netFee := -(cfg.Exec.MakerRebatePerShare - cfg.Exec.ClearingFeePerShare)
	p.MMBaseline.SetFeePerShare(netFee)
	p.MMToxicity.SetFeePerShare(netFee)

	if cfg.ToxicityThreshold > 0.0 {
		p.MMToxicity.SetToxicityThreshold(cfg.ToxicityThreshold)
	}
	if cfg.ToxicityMultiplier > 0.0 {
		p.MMToxicity.SetToxicityMultiplier(cfg.ToxicityMultiplier)
	}

	if cfg.OnlineLearning {
		p.OnlineModel = model.NewModel(cfg.LearningRate, cfg.WarmupFills)
	}
}

// Ticker returns the symbol ticker cached at EnsureInit.
func (p *PerSymbolSim) Ticker() string { return p.cachedTicker }

// SymbolIndex returns the symbol index bound at EnsureInit.
func (p *PerSymbolSim) SymbolIndex() uint32 { return p.symbolIndex }

// EligibleToTrade reports whether the last UpdateQuotes call found this
// symbol's spread/depth within the configured trading criteria.
func (p *PerSymbolSim) EligibleToTrade() bool { return p.eligibleToTrade }

// sampleLatencyNs draws a one-way latency in nanoseconds from the
// configured normal distribution, floored at 5 microseconds.
func (p *PerSymbolSim) sampleLatencyNs() uint64 {
	us := p.rng.NormFloat64()*p.config.Exec.LatencyUsJitter + p.config.Exec.LatencyUsMean
	if us < 5.0 {
		us = 5.0
	}
	return uint64(us * 1000.0)
}

// calculateQueuePosition estimates how many shares rest ahead of a fresh
// virtual order placed at price on side, as a small random fraction of
// the currently visible depth at that price.
func (p *PerSymbolSim) calculateQueuePosition(price float64, side xdp.Side) uint32 {
	visibleDepth := p.Book.VolumeAt(decimal.NewFromFloat(price), side)
	if visibleDepth == 0 {
		return 0
	}
	basePosition := float64(visibleDepth) * p.config.Exec.QueuePositionFraction
	variance := basePosition * p.config.Exec.QueuePositionVariance
	pos := p.rng.NormFloat64()*variance + basePosition
	if pos < 0 {
		pos = 0
	}
	return uint32(pos)
}

// checkEligibility reports whether the current book state clears the
// configured spread and depth thresholds for trading this symbol.
func (p *PerSymbolSim) checkEligibility() bool {
	stats := p.Book.Stats()
	if !stats.HasBid || !stats.HasAsk {
		return false
	}
	spread, _ := stats.Spread.Float64()
	if spread < p.config.Exec.MinSpreadToTrade || spread > p.config.Exec.MaxSpreadToTrade {
		return false
	}
	if stats.TotalBidQty < p.config.Exec.MinDepthToTrade || stats.TotalAskQty < p.config.Exec.MinDepthToTrade {
		return false
	}
	return true
}

// checkRiskLimits halts rs permanently once its cumulative PnL breaches
// the per-symbol daily loss limit, and reports whether it's still clear.
func (p *PerSymbolSim) checkRiskLimits(rs *risk.State) bool {
	if rs.TotalPnL() < -p.config.Exec.MaxDailyLossPerSymbol {
		rs.Halted = true
		return false
	}
	return true
}

// buildFeatureVector averages the five book-derived toxicity ratios over
// the top three bid and ask levels, then appends the three temporal
// tracker features, for use by the online toxicity model.
func (p *PerSymbolSim) buildFeatureVector() model.FeatureVector {
	var fv model.FeatureVector
	snap := p.Book.TopN(3)

	count := 0
	for i := 0; i < len(snap.TopBidLevels) && i < 3; i++ {
		c, ping, oddLot, precision, resistance := snap.TopBidLevels[i].Toxicity.Ratios()
		fv[0] += c
		fv[1] += ping
		fv[2] += oddLot
		fv[3] += precision
		fv[4] += resistance
		count++
	}
	for i := 0; i < len(snap.TopAskLevels) && i < 3; i++ {
		c, ping, oddLot, precision, resistance := snap.TopAskLevels[i].Toxicity.Ratios()
		fv[0] += c
		fv[1] += ping
		fv[2] += oddLot
		fv[3] += precision
		fv[4] += resistance
		count++
	}
	if count > 0 {
		for i := 0; i < 5; i++ {
			fv[i] /= float64(count)
		}
	}

	fv[5] = p.tradeFlow.Imbalance()
	fv[6] = p.spreadTracker.ChangeRate()
	fv[7] = p.momentumTracker.Momentum()
	return fv
}

// measureAdverseSelection scans fills for entries old enough to measure
// post-fill price movement, charges the configured fraction of any
// adverse move into rs, optionally trains the online model, and retires
// measured fills into completed (when non-nil) before dropping them from
// fills. Emergency-prunes fills past 10,000 entries to bound memory.
func (p *PerSymbolSim) measureAdverseSelection(fills *[]FillRecord, completed *[]FillRecord, rs *risk.State, nowNs uint64) {
	stats := p.Book.Stats()
	currentMid, _ := stats.Mid.Float64()

	for i := range *fills {
		f := &(*fills)[i]
		if f.AdverseMeasured {
			continue
		}
		elapsedUs := (nowNs - f.FillTimeNs) / 1000
		if elapsedUs < p.config.Exec.AdverseLookforwardUs {
			continue
		}
		f.AdverseMeasured = true
		if currentMid <= 0 {
			continue
		}

		priceChange := currentMid - f.MidPriceAtFill
		adverseMove := priceChange
		if f.IsBuy {
			adverseMove = -priceChange
		}
		if adverseMove > 0 {
			f.AdversePnL = -adverseMove * float64(f.FillQty) * p.config.Exec.AdverseSelectionMultiplier
			rs.TotalAdversePnL += f.AdversePnL
			rs.AdverseFills++
		}

		if p.config.OnlineLearning && p.OnlineModel != nil {
			wasAdverse := adverseMove > 0.005
			p.OnlineModel.Update(f.Features, wasAdverse)
		}
	}

	if len(*fills) > pendingFillsHardCap {
		cut := len(*fills) - pendingFillsPruneTo
		for i := 0; i < cut; i++ {
			(*fills)[i].AdverseMeasured = true
		}
	}

	if completed != nil {
		for _, f := range *fills {
			if f.AdverseMeasured {
				*completed = append(*completed, f)
			}
		}
	}

	remaining := (*fills)[:0]
	for _, f := range *fills {
		if !f.AdverseMeasured {
			remaining = append(remaining, f)
		}
	}
	*fills = remaining
}

// eligibleForFill reports whether a resting quote at quotePx may fill
// against an execution at execPx, under the configured fill mode.
func (p *PerSymbolSim) eligibleForFill(quotePx, execPx float64, isBidSide bool) bool {
	if p.config.Exec.FillMode == FillModeMatch {
		return math.Abs(quotePx-execPx) < 1e-12
	}
	if isBidSide {
		return quotePx >= execPx
	}
	return quotePx <= execPx
}

// updateVirtualOrder re-arms vo against a newly computed quote price/size.
// A price change while already live opens a stale-quote exposure window
// during which queue discipline is bypassed (see eligibleForFill callers).
func (p *PerSymbolSim) updateVirtualOrder(vo *VirtualOrder, price float64, size uint32, side xdp.Side, nowNs uint64) {
	priceChanged := vo.Price != price
	changed := !vo.Live || priceChanged || vo.Size != size || vo.Remaining == 0
	if !changed {
		return
	}

	latencyNs := p.sampleLatencyNs()

	if vo.Live && priceChanged {
		vo.ExposedUntilNs = nowNs + p.config.Exec.QuoteExposureWindowUs*1000
	}

	vo.Price = price
	vo.Size = size
	vo.Remaining = size
	vo.QueueAhead = p.calculateQueuePosition(price, side)
	vo.ActiveAtNs = nowNs + latencyNs
	vo.Live = price > 0.0 && size > 0
}

// quotedPriceSize collapses a strategy quote into the (price, size) pair
// that updateVirtualOrder should see: zero size when the strategy isn't
// currently quoting, which makes the corresponding virtual order inert.
func quotedPriceSize(q strategy.Quote) (bidPx, askPx float64, bidSz, askSz uint32) {
	if !q.IsQuoted {
		return 0, 0, 0, 0
	}
	bidPx, _ = q.BidPrice.Float64()
	askPx, _ = q.AskPrice.Float64()
	return bidPx, askPx, q.BidSize, q.AskSize
}

// UpdateQuotes is the periodic tick: it measures adverse selection on
// pending fills, updates temporal trackers, re-checks eligibility and
// risk limits, feeds the online model's prediction to the toxicity
// strategy, recomputes both strategies' quotes, and re-arms their virtual
// orders. No-ops if called before the configured quote interval elapses.
func (p *PerSymbolSim) UpdateQuotes(nowNs uint64) {
	quoteIntervalNs := p.config.Exec.QuoteUpdateIntervalUs * 1000
	if nowNs-p.lastQuoteUpdateNs < quoteIntervalNs {
		return
	}
	p.lastQuoteUpdateNs = nowNs

	var bc, tc *[]FillRecord
	if p.config.OutputDir != "" {
		bc, tc = &p.BaselineCompletedFills, &p.ToxicityCompletedFills
	}
	p.measureAdverseSelection(&p.baselinePendingFills, bc, &p.BaselineRisk, nowNs)
	p.measureAdverseSelection(&p.toxicityPendingFills, tc, &p.ToxicityRisk, nowNs)

	bookStats := p.Book.Stats()
	if spread, _ := bookStats.Spread.Float64(); spread > 0 {
		p.spreadTracker.RecordSpread(spread)
	}
	if mid, _ := bookStats.Mid.Float64(); mid > 0 {
		p.momentumTracker.RecordMid(mid)
	}

	p.eligibleToTrade = p.checkEligibility()
	if !p.eligibleToTrade {
		return
	}
	if !p.checkRiskLimits(&p.BaselineRisk) || !p.checkRiskLimits(&p.ToxicityRisk) {
		return
	}

	if p.config.OnlineLearning && p.OnlineModel != nil && !p.OnlineModel.InWarmup() {
		fv := p.buildFeatureVector()
		p.MMToxicity.SetOverrideToxicity(p.OnlineModel.Predict(fv))
	}

	snap := p.Book.TopN(3)
	p.MMBaseline.UpdateMarketData(snap)
	p.MMToxicity.UpdateMarketData(snap)

	p.BaselineRisk.UnrealizedPnL = p.MMBaseline.Stats().UnrealizedPnL
	p.ToxicityRisk.UnrealizedPnL = p.MMToxicity.Stats().UnrealizedPnL

	qBase := p.MMBaseline.Quotes()
	qTox := p.MMToxicity.Quotes()

	bidBase, askBase, bidSzBase, askSzBase := quotedPriceSize(qBase)
	bidTox, askTox, bidSzTox, askSzTox := quotedPriceSize(qTox)

	p.updateVirtualOrder(&p.baselineState.Bid, bidBase, bidSzBase, xdp.SideBuy, nowNs)
	p.updateVirtualOrder(&p.baselineState.Ask, askBase, askSzBase, xdp.SideSell, nowNs)
	p.updateVirtualOrder(&p.toxicityState.Bid, bidTox, bidSzTox, xdp.SideBuy, nowNs)
	p.updateVirtualOrder(&p.toxicityState.Ask, askTox, askSzTox, xdp.SideSell, nowNs)
}

// OnAdd records the resting order and applies it to the book, then
// opportunistically prunes order_info entries older than 60 seconds at
// most once every 10 seconds of market time.
func (p *PerSymbolSim) OnAdd(orderID uint64, price decimal.Decimal, volume uint32, side xdp.Side, nowNs uint64) {
	priceF, _ := price.Float64()
	p.orderInfo[orderID] = orderInfo{side: side, price: priceF, volume: volume, addTimeNs: nowNs}
	_ = p.Book.Add(orderID, price, volume, side)

	if nowNs-p.lastCleanupNs > cleanupIntervalNs {
		p.lastCleanupNs = nowNs
		for id, info := range p.orderInfo {
			if nowNs-info.addTimeNs > maxOrderAgeNs {
				delete(p.orderInfo, id)
			}
		}
	}
}

// OnModify adjusts the tracked order and, if its price changed, treats the
// old price level as a cancel for queue-position purposes before applying
// the mutation to the book.
func (p *PerSymbolSim) OnModify(orderID uint64, price decimal.Decimal, volume uint32) {
	priceF, _ := price.Float64()
	if info, ok := p.orderInfo[orderID]; ok {
		if math.Abs(info.price-priceF) > 0.0001 {
			p.updateQueueOnCancel(info.price, info.volume, info.side)
		}
		info.price = priceF
		info.volume = volume
		p.orderInfo[orderID] = info
	}
	_ = p.Book.Modify(orderID, price, volume)
}

// updateQueueOnCancel improves the queue position of any live virtual
// order resting at the same price and side as a cancelled order, since an
// order ahead of it just left the line.
func (p *PerSymbolSim) updateQueueOnCancel(price float64, volume uint32, side xdp.Side) {
	update := func(vo *VirtualOrder, isBid bool) {
		if !vo.Live || vo.QueueAhead == 0 {
			return
		}
		if (isBid && side == xdp.SideBuy) || (!isBid && side == xdp.SideSell) {
			if math.Abs(vo.Price-price) < 0.0001 {
				if vo.QueueAhead > volume {
					vo.QueueAhead -= volume
				} else {
					vo.QueueAhead = 0
				}
			}
		}
	}
	update(&p.baselineState.Bid, true)
	update(&p.baselineState.Ask, false)
	update(&p.toxicityState.Bid, true)
	update(&p.toxicityState.Ask, false)
}

// OnDelete updates queue positions for the cancelled order's price level
// before removing its tracked info and applying the delete to the book.
func (p *PerSymbolSim) OnDelete(orderID uint64) {
	if info, ok := p.orderInfo[orderID]; ok {
		p.updateQueueOnCancel(info.price, info.volume, info.side)
		delete(p.orderInfo, orderID)
	}
	_ = p.Book.Delete(orderID)
}

// OnReplace retires the old order (as a cancel, for queue purposes),
// tracks the new one, and applies both halves to the book.
func (p *PerSymbolSim) OnReplace(oldOrderID, newOrderID uint64, price decimal.Decimal, volume uint32, side xdp.Side, nowNs uint64) {
	if info, ok := p.orderInfo[oldOrderID]; ok {
		p.updateQueueOnCancel(info.price, info.volume, info.side)
		delete(p.orderInfo, oldOrderID)
	}
	priceF, _ := price.Float64()
	p.orderInfo[newOrderID] = orderInfo{side: side, price: priceF, volume: volume, addTimeNs: nowNs}

	_ = p.Book.Delete(oldOrderID)
	_ = p.Book.Add(newOrderID, price, volume, side)
}

// tryFillOne checks whether one side of one strategy's virtual order
// fills against an incoming execution, and if so applies queue
// discipline (bypassed during the stale-quote exposure window), records
// the fill against mm and risk, and queues it for adverse-selection
// measurement.
func (p *PerSymbolSim) tryFillOne(mm *strategy.Strategy, strategyLabel string, st *StrategyExecState, pendingFills *[]FillRecord, rs *risk.State, isBidSide bool, execPrice float64, execQty uint32, nowNs uint64) {
	if rs.Halted {
		return
	}

	vo := &st.Bid
	if !isBidSide {
		vo = &st.Ask
	}
	if !vo.Live || vo.Remaining == 0 {
		return
	}
	if nowNs < vo.ActiveAtNs {
		return
	}
	if !p.eligibleForFill(vo.Price, execPrice, isBidSide) {
		return
	}

	inExposureWindow := nowNs < vo.ExposedUntilNs

	qtyLeft := execQty
	if vo.QueueAhead > 0 && !inExposureWindow {
		consume := vo.QueueAhead
		if qtyLeft < consume {
			consume = qtyLeft
		}
		vo.QueueAhead -= consume
		qtyLeft -= consume
	}
	if qtyLeft == 0 {
		return
	}

	fillQty := vo.Remaining
	if qtyLeft < fillQty {
		fillQty = qtyLeft
	}
	if fillQty == 0 {
		return
	}

	vo.Remaining -= fillQty
	mm.OnFill(isBidSide, decimal.NewFromFloat(vo.Price), fillQty)
	rs.RealizedPnL = mm.Stats().RealizedPnL
	rs.TotalFills++
	rs.UpdateInventoryVariance(float64(mm.Inventory()))
	metrics.FillsExecuted.WithLabelValues(strategyLabel).Inc()

	stats := p.Book.Stats()
	mid, _ := stats.Mid.Float64()
	record := FillRecord{
		FillTimeNs:     nowNs,
		FillPrice:      vo.Price,
		FillQty:        fillQty,
		IsBuy:          isBidSide,
		MidPriceAtFill: mid,
		Features:       p.buildFeatureVector(),
	}
	if p.config.OnlineLearning && p.OnlineModel != nil && !p.OnlineModel.InWarmup() {
		record.ToxicityAtFill = p.OnlineModel.Predict(record.Features)
	} else {
		record.ToxicityAtFill = mm.CurrentToxicity()
	}
	*pendingFills = append(*pendingFills, record)
}

// maybeFillOnExecution drives the periodic quote tick, then, if the
// symbol is currently eligible to trade, checks both strategies' virtual
// orders on the resting side against the execution.
func (p *PerSymbolSim) maybeFillOnExecution(restingSide xdp.Side, execPrice float64, execQty uint32, nowNs uint64) {
	p.UpdateQuotes(nowNs)
	if !p.eligibleToTrade {
		return
	}

	isBidSide := restingSide == xdp.SideBuy
	p.tryFillOne(p.MMBaseline, "baseline", &p.baselineState, &p.baselinePendingFills, &p.BaselineRisk, isBidSide, execPrice, execQty, nowNs)
	p.tryFillOne(p.MMToxicity, "toxicity", &p.toxicityState, &p.toxicityPendingFills, &p.ToxicityRisk, isBidSide, execPrice, execQty, nowNs)
}

// OnExecute feeds the trade-flow tracker, checks both strategies for
// fills against the executed resting order, reduces (or removes) the
// tracked order's remaining volume, and applies the trade to the book.
func (p *PerSymbolSim) OnExecute(orderID uint64, execQty uint32, execPrice decimal.Decimal, nowNs uint64) {
	execPriceF, _ := execPrice.Float64()

	if info, ok := p.orderInfo[orderID]; ok {
		isBuy := info.side == xdp.SideBuy
		p.tradeFlow.RecordTrade(isBuy, execQty)

		p.maybeFillOnExecution(info.side, execPriceF, execQty, nowNs)

		if info.volume > execQty {
			info.volume -= execQty
			p.orderInfo[orderID] = info
		} else {
			delete(p.orderInfo, orderID)
		}
	}

	_ = p.Book.Execute(orderID, execQty, execPrice)
}
