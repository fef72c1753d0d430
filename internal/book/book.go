// Package book implements the per-symbol limit order book: price-sorted
// bid/ask ladders with order-level tracking, O(1) derived statistics, and
// a per-price-level toxicity feature accumulator.
package book

import (
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
	"github.com/HenryR2112/NYSE-XDP/internal/xdperrors"
)

// TickSize is the price granularity used to convert a decimal price to an
// integer tick key. All XDP prices are exact multiples of this tick.
const TickSize = 0.01

// ToTicks converts a dollar price to its integer tick representation,
// rounding to the nearest tick to absorb floating-point noise from the
// multiplier-based price decode.
func ToTicks(price decimal.Decimal) int64 {
	f, _ := price.Float64()
	return int64(math.Round(f / TickSize))
}

// FromTicks converts an integer tick key back to a decimal dollar price.
func FromTicks(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(decimal.NewFromFloat(TickSize))
}

// Order is a single resting order tracked by order_id.
type Order struct {
	OrderID   uint64
	PriceTick int64
	Volume    uint32
	Side      xdp.Side
}

// ToxicityMetrics are the running per-price-level counters used to derive
// a toxicity score at read time.
type ToxicityMetrics struct {
	Adds                    uint32
	Cancels                 uint32
	VolumeAdded             uint32
	VolumeCancelled         uint32
	PingCount               uint32
	LargeOrderCount         uint32
	OddLotCount             uint32
	HighPrecisionPriceCount uint32
	ResistanceLevelCount    uint32
}

// Score computes the weighted toxicity score for this level. The weights
// are the hand-calibrated baseline and must not be changed by callers.
func (m ToxicityMetrics) Score() float64 {
	total := m.Adds + m.Cancels
	if total == 0 {
		return 0.0
	}
	n := float64(total)
	score := 0.0
	score += (float64(m.Cancels) / n) * 0.40
	score += (float64(m.PingCount) / n) * 0.20
	score += (float64(m.OddLotCount) / n) * 0.15
	score += (float64(m.HighPrecisionPriceCount) / n) * 0.15
	score += (float64(m.ResistanceLevelCount) / n) * 0.10
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Ratios returns the five component ratios (cancel, ping, odd-lot,
// precision, resistance) that Score combines, each adds+cancels
// denominated. Used by the feature vector builder, which needs the raw
// ratios rather than the pre-weighted score.
func (m ToxicityMetrics) Ratios() (cancel, ping, oddLot, precision, resistance float64) {
	total := m.Adds + m.Cancels
	if total == 0 {
		return 0, 0, 0, 0, 0
	}
	n := float64(total)
	return float64(m.Cancels) / n, float64(m.PingCount) / n, float64(m.OddLotCount) / n,
		float64(m.HighPrecisionPriceCount) / n, float64(m.ResistanceLevelCount) / n
}

func (m *ToxicityMetrics) recordAdd(price decimal.Decimal, volume uint32) {
	m.Adds++
	m.VolumeAdded += volume

	if volume < 10 {
		m.PingCount++
	}
	if volume > 200 {
		m.LargeOrderCount++
	}
	if volume%100 != 0 {
		m.OddLotCount++
	}

	f, _ := price.Float64()
	rounded2dec := math.Round(f*100.0) / 100.0
	if math.Abs(f-rounded2dec) > 0.0001 {
		m.HighPrecisionPriceCount++
	}

	cents := math.Round((f-math.Floor(f))*100.0) / 100.0
	switch cents {
	case 0.95, 0.99, 0.98, 0.01, 0.05:
		m.ResistanceLevelCount++
	}
}

// priceLevel is one rung of a ladder: its tick key and the aggregate
// resting volume at that price. Toxicity counters are kept per side in a
// separate map, keyed by the same tick.
type priceLevel struct {
	ticks     int64
	aggregate uint32
}

// Level is an immutable, externally visible view of one price level,
// returned by Snapshot.
type Level struct {
	Price     decimal.Decimal
	Aggregate uint32
	Toxicity  ToxicityMetrics
}

// Stats are the book's O(1)-derived statistics.
type Stats struct {
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	HasBid      bool
	HasAsk      bool
	Spread      decimal.Decimal
	Mid         decimal.Decimal
	TotalBidQty uint32
	TotalAskQty uint32
	BidLevels   int
	AskLevels   int
}

// Snapshot is a consistent, single-lock-acquisition copy of book state
// sufficient for rendering or strategy evaluation.
type Snapshot struct {
	Stats           Stats
	TopBidLevels    []Level // best-first, up to N
	TopAskLevels    []Level // best-first, up to N
	LastTradedPrice decimal.Decimal
	LastTradedVol   uint32
}

// Book is a single symbol's limit order book. All mutating operations and
// snapshot reads are serialized by an internal lock; there is no
// iteration under external locks.
type Book struct {
	mu sync.Mutex

	bids *btree.Map[int64, *priceLevel]
	asks *btree.Map[int64, *priceLevel]

	orders map[uint64]Order

	bidToxicity map[int64]*ToxicityMetrics
	askToxicity map[int64]*ToxicityMetrics

	totalBidQty uint32
	totalAskQty uint32

	lastTradedPrice decimal.Decimal
	lastTradedVol   uint32
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids:        btree.NewMap[int64, *priceLevel](32),
		asks:        btree.NewMap[int64, *priceLevel](32),
		orders:      make(map[uint64]Order),
		bidToxicity: make(map[int64]*ToxicityMetrics),
		askToxicity: make(map[int64]*ToxicityMetrics),
	}
}

func (b *Book) ladder(side xdp.Side) *btree.Map[int64, *priceLevel] {
	if side == xdp.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) toxicityTable(side xdp.Side) map[int64]*ToxicityMetrics {
	if side == xdp.SideBuy {
		return b.bidToxicity
	}
	return b.askToxicity
}

// Add inserts volume for order_id at price on side. A no-op if order_id
// already exists (the protocol is assumed well-formed); returns a wrapped
// xdperrors.ErrEventGuarded in that case for callers that want to observe
// the guard rather than only see it in dispatch.Counters.
func (b *Book) Add(orderID uint64, price decimal.Decimal, volume uint32, side xdp.Side) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.orders[orderID]; exists {
		return xdperrors.EventGuard(fmt.Sprintf("add: order_id %d already exists", orderID))
	}

	ticks := ToTicks(price)
	b.addVolume(side, ticks, volume)
	b.recordToxicityAdd(side, ticks, price, volume)

	b.orders[orderID] = Order{OrderID: orderID, PriceTick: ticks, Volume: volume, Side: side}
	return nil
}

// Modify changes the price/volume of an existing resting order. No-op,
// returning a wrapped xdperrors.ErrEventGuarded, if order_id is unknown.
// Side is immutable; the protocol never changes it.
func (b *Book) Modify(orderID uint64, newPrice decimal.Decimal, newVolume uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ord, ok := b.orders[orderID]
	if !ok {
		return xdperrors.EventGuard(fmt.Sprintf("modify: unknown order_id %d", orderID))
	}

	b.removeVolume(ord.Side, ord.PriceTick, ord.Volume)

	newTicks := ToTicks(newPrice)
	b.addVolume(ord.Side, newTicks, newVolume)

	ord.PriceTick = newTicks
	ord.Volume = newVolume
	b.orders[orderID] = ord
	return nil
}

// Delete removes a resting order entirely. No-op, returning a wrapped
// xdperrors.ErrEventGuarded, if unknown.
func (b *Book) Delete(orderID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ord, ok := b.orders[orderID]
	if !ok {
		return xdperrors.EventGuard(fmt.Sprintf("delete: unknown order_id %d", orderID))
	}

	if tox := b.toxicityTable(ord.Side)[ord.PriceTick]; tox != nil {
		tox.Cancels++
		tox.VolumeCancelled += ord.Volume
	}

	b.removeVolume(ord.Side, ord.PriceTick, ord.Volume)
	delete(b.orders, orderID)
	return nil
}

// Execute reduces a resting order's volume by qty, recording the trade.
// Full fill (qty >= remaining) removes the order entirely. Executes never
// touch toxicity cancel counters. No-op, returning a wrapped
// xdperrors.ErrEventGuarded, if order_id is unknown.
func (b *Book) Execute(orderID uint64, qty uint32, tradePrice decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ord, ok := b.orders[orderID]
	if !ok {
		return xdperrors.EventGuard(fmt.Sprintf("execute: unknown order_id %d", orderID))
	}

	if ord.Volume > qty {
		ord.Volume -= qty
		b.removeVolume(ord.Side, ord.PriceTick, qty)
		b.orders[orderID] = ord
	} else {
		b.removeVolume(ord.Side, ord.PriceTick, ord.Volume)
		delete(b.orders, orderID)
	}

	b.lastTradedPrice = tradePrice
	b.lastTradedVol = qty
	return nil
}

// Clear drops all book state, including toxicity counters.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = btree.NewMap[int64, *priceLevel](32)
	b.asks = btree.NewMap[int64, *priceLevel](32)
	b.orders = make(map[uint64]Order)
	b.bidToxicity = make(map[int64]*ToxicityMetrics)
	b.askToxicity = make(map[int64]*ToxicityMetrics)
	b.totalBidQty = 0
	b.totalAskQty = 0
	b.lastTradedPrice = decimal.Zero
	b.lastTradedVol = 0
}

// TopN returns the snapshot used by strategies and for rendering: stats
// plus the top n levels (best-first) on each side with their toxicity.
func (b *Book) TopN(n int) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Stats:           b.statsLocked(),
		LastTradedPrice: b.lastTradedPrice,
		LastTradedVol:   b.lastTradedVol,
	}

	snap.TopBidLevels = b.topLevelsLocked(b.bids, b.bidToxicity, n)
	snap.TopAskLevels = b.topLevelsLocked(b.asks, b.askToxicity, n)
	return snap
}

// CheckpointSnapshot returns a self-consistent pair for internal/checkpoint:
// the top n levels per side, exactly as TopN(n) would, plus only the
// resting orders whose price tick falls within those captured levels.
// Capturing both under one lock acquisition, with the order list filtered
// to the same depth as the ladder, keeps Restore's rebuilt ladder and
// order table consistent — an order resting deeper than n levels on
// either side is omitted from both rather than surviving in the order
// table with no matching level for addVolume/removeVolume to update.
func (b *Book) CheckpointSnapshot(n int) (Snapshot, []Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Stats:           b.statsLocked(),
		LastTradedPrice: b.lastTradedPrice,
		LastTradedVol:   b.lastTradedVol,
	}
	snap.TopBidLevels = b.topLevelsLocked(b.bids, b.bidToxicity, n)
	snap.TopAskLevels = b.topLevelsLocked(b.asks, b.askToxicity, n)

	inRange := make(map[int64]bool, len(snap.TopBidLevels)+len(snap.TopAskLevels))
	for _, lvl := range snap.TopBidLevels {
		inRange[ToTicks(lvl.Price)] = true
	}
	for _, lvl := range snap.TopAskLevels {
		inRange[ToTicks(lvl.Price)] = true
	}

	orders := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		if inRange[o.PriceTick] {
			orders = append(orders, o)
		}
	}
	return snap, orders
}

// Stats returns just the derived statistics.
func (b *Book) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

// Toxicity returns the toxicity score for a price level on a side, or 0.0
// if no activity has been recorded there.
func (b *Book) Toxicity(price decimal.Decimal, side xdp.Side) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ticks := ToTicks(price)
	if tox := b.toxicityTable(side)[ticks]; tox != nil {
		return tox.Score()
	}
	return 0.0
}

// BidAskVolumes returns the running O(1) total resting volume on each
// side, used for the OBI (order-book-imbalance) tilt.
func (b *Book) BidAskVolumes() (bidQty, askQty uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalBidQty, b.totalAskQty
}

// VolumeAt returns the visible resting aggregate volume at price on side,
// or 0 if no level exists there. Used by the queue position model, which
// needs the depth at the simulator's own quote price.
func (b *Book) VolumeAt(price decimal.Decimal, side xdp.Side) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	lvl, ok := b.ladder(side).Get(ToTicks(price))
	if !ok {
		return 0
	}
	return lvl.aggregate
}

// Orders returns a snapshot copy of every resting order, keyed by nothing
// in particular (order is not meaningful). Callers that pair this with a
// depth-limited ladder snapshot (e.g. TopN) should use CheckpointSnapshot
// instead, which keeps the two consistent.
func (b *Book) Orders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	return out
}

// RestoreState is the externally captured ladder + order state accepted
// by Restore, e.g. loaded from a checkpoint.
type RestoreState struct {
	Bids   []Level // any order; keyed by Price
	Asks   []Level
	Orders []Order
}

// Restore seeds book state from a checkpoint. Toxicity counters are
// cleared since they are path-dependent and not reconstructible from a
// ladder snapshot alone.
func (b *Book) Restore(state RestoreState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = btree.NewMap[int64, *priceLevel](32)
	b.asks = btree.NewMap[int64, *priceLevel](32)
	b.bidToxicity = make(map[int64]*ToxicityMetrics)
	b.askToxicity = make(map[int64]*ToxicityMetrics)
	b.orders = make(map[uint64]Order)
	b.totalBidQty = 0
	b.totalAskQty = 0

	for _, lvl := range state.Bids {
		ticks := ToTicks(lvl.Price)
		b.bids.Set(ticks, &priceLevel{ticks: ticks, aggregate: lvl.Aggregate})
		b.totalBidQty += lvl.Aggregate
	}
	for _, lvl := range state.Asks {
		ticks := ToTicks(lvl.Price)
		b.asks.Set(ticks, &priceLevel{ticks: ticks, aggregate: lvl.Aggregate})
		b.totalAskQty += lvl.Aggregate
	}
	for _, ord := range state.Orders {
		b.orders[ord.OrderID] = ord
	}
}

func (b *Book) statsLocked() Stats {
	s := Stats{
		TotalBidQty: b.totalBidQty,
		TotalAskQty: b.totalAskQty,
		BidLevels:   b.bids.Len(),
		AskLevels:   b.asks.Len(),
	}

	// Ladders are keyed ascending by tick value; since bids are stored with
	// their natural (positive) tick, the best bid is the LARGEST key, found
	// via Reverse's first callback. Asks are stored ascending already, so
	// the best ask is Scan's first callback.
	b.bids.Reverse(func(ticks int64, _ *priceLevel) bool {
		s.HasBid = true
		s.BestBid = FromTicks(ticks)
		return false
	})
	b.asks.Scan(func(ticks int64, _ *priceLevel) bool {
		s.HasAsk = true
		s.BestAsk = FromTicks(ticks)
		return false
	})

	if s.HasBid && s.HasAsk {
		s.Spread = s.BestAsk.Sub(s.BestBid)
		s.Mid = s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2))
	}
	return s
}

func (b *Book) topLevelsLocked(ladder *btree.Map[int64, *priceLevel], tox map[int64]*ToxicityMetrics, n int) []Level {
	out := make([]Level, 0, n)
	visit := func(ticks int64, lvl *priceLevel) bool {
		out = append(out, levelFrom(ticks, lvl, tox))
		return len(out) < n
	}
	if ladder == b.bids {
		ladder.Reverse(visit)
	} else {
		ladder.Scan(visit)
	}
	return out
}

func levelFrom(ticks int64, lvl *priceLevel, tox map[int64]*ToxicityMetrics) Level {
	l := Level{Price: FromTicks(ticks), Aggregate: lvl.aggregate}
	if t := tox[ticks]; t != nil {
		l.Toxicity = *t
	}
	return l
}

func (b *Book) addVolume(side xdp.Side, ticks int64, volume uint32) {
	ladder := b.ladder(side)
	lvl, ok := ladder.Get(ticks)
	if !ok {
		lvl = &priceLevel{ticks: ticks}
		ladder.Set(ticks, lvl)
	}
	lvl.aggregate += volume

	if side == xdp.SideBuy {
		b.totalBidQty += volume
	} else {
		b.totalAskQty += volume
	}
}

func (b *Book) removeVolume(side xdp.Side, ticks int64, volume uint32) {
	ladder := b.ladder(side)
	lvl, ok := ladder.Get(ticks)
	if !ok {
		return
	}
	if lvl.aggregate <= volume {
		if side == xdp.SideBuy {
			b.totalBidQty -= lvl.aggregate
		} else {
			b.totalAskQty -= lvl.aggregate
		}
		ladder.Delete(ticks)
		return
	}
	lvl.aggregate -= volume
	if side == xdp.SideBuy {
		b.totalBidQty -= volume
	} else {
		b.totalAskQty -= volume
	}
}

func (b *Book) recordToxicityAdd(side xdp.Side, ticks int64, price decimal.Decimal, volume uint32) {
	table := b.toxicityTable(side)
	tox, ok := table[ticks]
	if !ok {
		tox = &ToxicityMetrics{}
		table[ticks] = tox
	}
	tox.recordAdd(price, volume)
}
