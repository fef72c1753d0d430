// Package dispatch routes decoded XDP messages to the per-symbol simulator
// responsible for their symbol_index, behind a sharded locking scheme that
// lets unrelated symbols be processed without contending on a global lock.
package dispatch

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/HenryR2112/NYSE-XDP/internal/metrics"
	"github.com/HenryR2112/NYSE-XDP/internal/sim"
	"github.com/HenryR2112/NYSE-XDP/internal/symbolmap"
	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

const (
	// NumShards is the number of independent mutexes guarding the slot
	// table, keyed by symbol_index mod NumShards.
	NumShards = 64
	// MaxSymbols bounds the pre-allocated slot table. A symbol_index at or
	// beyond this is out of range and its messages are dropped.
	MaxSymbols = 100_000
)

// shard is one stripe of the slot table's locking. Padding keeps adjacent
// shards on separate cache lines so unrelated symbols never false-share.
type shard struct {
	_pad0 [8]uint64
	mu    sync.Mutex
	_pad1 [8]uint64
}

// Counters tallies the fail-soft per-event drop conditions, for end-of-run
// diagnostics.
type Counters struct {
	UnknownMessageType uint64
	OutOfRange         uint64
	Unmapped           uint64
	FilteredOut        uint64
	Truncated          uint64
}

// Table is the MAX_SYMBOLS-wide simulator slot table: one *sim.PerSymbolSim
// per symbol_index, lazily constructed on first reference, with access to
// each slot serialized by one of 64 sharded mutexes. A symbol's shard is
// held only for the duration of processing a single message and no two
// shards are ever held at once. Symbols whose indices map to the same shard
// share its mutex, so goroutines working on such symbols do wait for each
// other, one message at a time.
type Table struct {
	shards [NumShards]*shard
	slots  []atomic.Pointer[sim.PerSymbolSim]

	symbols      *symbolmap.Map
	filterTicker string
	cfg          sim.Config
	onInit       func(idx uint32, p *sim.PerSymbolSim)

	Dropped Counters
}

// New builds an empty slot table. symbols is consulted to resolve a
// symbol_index to a ticker and to decide the per-symbol price multiplier;
// filterTicker, if non-empty, restricts processing to that one ticker.
func New(symbols *symbolmap.Map, filterTicker string, cfg sim.Config) *Table {
	t := &Table{
		slots:        make([]atomic.Pointer[sim.PerSymbolSim], MaxSymbols),
		symbols:      symbols,
		filterTicker: filterTicker,
		cfg:          cfg,
	}
	for i := range t.shards {
		t.shards[i] = &shard{}
	}
	return t
}

func (t *Table) shardFor(idx uint32) *shard {
	return t.shards[idx%NumShards]
}

// SetOnInit registers a callback invoked once per symbol, immediately
// after its slot is constructed and before it processes any message, so a
// caller can seed the book from a prior checkpoint. A nil callback (the
// default) leaves every slot at its zero-order-book starting state.
func (t *Table) SetOnInit(fn func(idx uint32, p *sim.PerSymbolSim)) {
	t.onInit = fn
}

// resolve returns the simulator for idx, or nil if idx is out of range,
// unmapped, or filtered out. The fast path (an already-initialized slot) is
// a lock-free atomic load; only first reference to a symbol takes the
// shard's mutex to construct and publish its slot.
func (t *Table) resolve(idx uint32) *sim.PerSymbolSim {
	if idx >= MaxSymbols {
		atomic.AddUint64(&t.Dropped.OutOfRange, 1)
		return nil
	}
	if p := t.slots[idx].Load(); p != nil {
		return p
	}

	sh := t.shardFor(idx)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if p := t.slots[idx].Load(); p != nil {
		return p
	}

	ticker := t.symbols.Ticker(idx)
	if ticker == "" {
		atomic.AddUint64(&t.Dropped.Unmapped, 1)
		return nil
	}
	if t.filterTicker != "" && ticker != t.filterTicker {
		atomic.AddUint64(&t.Dropped.FilteredOut, 1)
		return nil
	}

	p := sim.New()
	p.EnsureInit(idx, ticker, t.cfg)
	if t.onInit != nil {
		t.onInit(idx, p)
	}
	t.slots[idx].Store(p)
	return p
}

// Symbols returns every simulator slot that was actually initialized, for
// end-of-run aggregation. Order is not meaningful to callers.
func (t *Table) Symbols() []*sim.PerSymbolSim {
	out := make([]*sim.PerSymbolSim, 0)
	for i := range t.slots {
		if p := t.slots[i].Load(); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// ReportShardOccupancy publishes metrics.ShardQueueDepth: the count of
// initialized symbol slots held by each of the NumShards shards, keyed by
// shard index as a string. Intended to be called once, at run completion.
func (t *Table) ReportShardOccupancy() {
	var counts [NumShards]int
	for i := range t.slots {
		if t.slots[i].Load() != nil {
			counts[uint32(i)%NumShards]++
		}
	}
	for shard, n := range counts {
		metrics.ShardQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(n))
	}
}

// Dispatch decodes one XDP message and feeds it to its symbol's simulator,
// holding that symbol's shard for the duration. Every failure mode here is
// fail-soft: an unknown message type, an undecodable payload, an
// out-of-range or unmapped symbol_index, or a ticker-filter mismatch simply
// increments a counter and returns, matching the per-event guard
// conditions. nowNs is the PCAP capture timestamp driving the simulator's
// clock.
func (t *Table) Dispatch(msg xdp.Message, nowNs uint64) {
	idx := xdp.SymbolIndex(msg.Type, msg.Raw)
	if idx == 0 {
		atomic.AddUint64(&t.Dropped.Truncated, 1)
		return
	}

	switch msg.Type {
	case xdp.MsgAddOrder, xdp.MsgModifyOrder, xdp.MsgDeleteOrder,
		xdp.MsgExecuteOrder, xdp.MsgReplaceOrder:
	default:
		// Imbalance, refresh, trade, and summary messages carry no order
		// book mutation that the simulator needs to drive fills; they are
		// decoded by internal/xdp for diagnostics but never reach a
		// simulator slot.
		atomic.AddUint64(&t.Dropped.UnknownMessageType, 1)
		return
	}

	p := t.resolve(idx)
	if p == nil {
		return
	}

	sh := t.shardFor(idx)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	multiplier := t.symbols.PriceMultiplier(idx)
	decoded := false

	switch msg.Type {
	case xdp.MsgAddOrder:
		a, ok := xdp.DecodeAddOrder(msg.Raw)
		if !ok {
			break
		}
		p.OnAdd(a.OrderID, xdp.ParsePrice(a.PriceRaw, multiplier), a.Volume, a.Side, nowNs)
		decoded = true

	case xdp.MsgModifyOrder:
		m, ok := xdp.DecodeModifyOrder(msg.Raw)
		if !ok {
			break
		}
		p.OnModify(m.OrderID, xdp.ParsePrice(m.PriceRaw, multiplier), m.Volume)
		decoded = true

	case xdp.MsgDeleteOrder:
		d, ok := xdp.DecodeDeleteOrder(msg.Raw)
		if !ok {
			break
		}
		p.OnDelete(d.OrderID)
		decoded = true

	case xdp.MsgExecuteOrder:
		e, ok := xdp.DecodeExecuteOrder(msg.Raw)
		if !ok {
			break
		}
		p.OnExecute(e.OrderID, e.Volume, xdp.ParsePrice(e.PriceRaw, multiplier), nowNs)
		decoded = true

	case xdp.MsgReplaceOrder:
		r, ok := xdp.DecodeReplaceOrder(msg.Raw)
		if !ok {
			break
		}
		p.OnReplace(r.OldOrderID, r.NewOrderID, xdp.ParsePrice(r.PriceRaw, multiplier), r.Volume, r.Side, nowNs)
		decoded = true
	}

	if decoded {
		metrics.MessagesDecoded.WithLabelValues(xdp.MessageTypeName(msg.Type)).Inc()
	} else {
		atomic.AddUint64(&t.Dropped.Truncated, 1)
		metrics.PacketsDropped.WithLabelValues("undecodable_body").Inc()
	}
}

// DispatchPacket walks every message in an XDP packet payload (the bytes
// following the 16-byte packet header) and dispatches each one in turn.
// declaredCount is the packet header's num_messages field; a message whose
// declared size would overrun the payload stops iteration early, per
// internal/xdp's fail-soft framing contract.
func (t *Table) DispatchPacket(payload []byte, declaredCount int, nowNs uint64) {
	xdp.IterMessages(payload, declaredCount, func(msg xdp.Message) {
		t.Dispatch(msg, nowNs)
	})
}
