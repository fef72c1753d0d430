package sim

import (
	"github.com/HenryR2112/NYSE-XDP/internal/model"
	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

// VirtualOrder is one side of a strategy's simulated resting order,
// subject to latency before it becomes live and a queue position ahead
// of it that must drain before fills reach it.
type VirtualOrder struct {
	Price        float64
	Size         uint32
	Remaining    uint32
	ActiveAtNs   uint64
	ExposedUntilNs uint64
	QueueAhead   uint32
	Live         bool
}

// StrategyExecState is the pair of virtual orders (bid, ask) backing one
// strategy instance's simulated presence in the book.
type StrategyExecState struct {
	Bid VirtualOrder
	Ask VirtualOrder
}

// FillRecord captures one simulated fill for adverse-selection
// measurement and, once measured, for CSV/aggregate output.
type FillRecord struct {
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

// orderInfo tracks enough about a resting order to update queue
// positions on cancel/execute and to prune stale entries.
type orderInfo struct {
	side      xdp.Side
	price     float64
	volume    uint32
	addTimeNs uint64
}
