// Package checkpoint persists per-symbol order-book state to BadgerDB so a
// run can be restarted mid-capture without replaying from the first
// packet. This backs book.Book.Restore (spec.md §4.2): toxicity counters
// are never checkpointed since they are path-dependent, only the ladder
// aggregates and resting-order table are.
//
// Adapted from the teacher's internal/orderqueue.BadgerSnapshotStore
// (timestamp-keyed blobs, latest-key-wins Load) generalized from one
// global blob to one key per symbol index so a checkpoint covers the
// whole per-symbol slot table without loading unrelated symbols.
package checkpoint

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/HenryR2112/NYSE-XDP/internal/book"
	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

// Store persists book.RestoreState snapshots keyed by symbol index.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a BadgerDB at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// snapshotLevel is the JSON-friendly mirror of book.Level (decimal.Decimal
// doesn't round-trip through sonnet's default numeric handling cleanly, so
// checkpoints store price as a string).
type snapshotLevel struct {
	Price     string `json:"price"`
	Aggregate uint32 `json:"aggregate"`
}

type snapshotOrder struct {
	OrderID   uint64 `json:"order_id"`
	PriceTick int64  `json:"price_tick"`
	Volume    uint32 `json:"volume"`
	Side      byte   `json:"side"`
}

type snapshotDoc struct {
	Bids   []snapshotLevel `json:"bids"`
	Asks   []snapshotLevel `json:"asks"`
	Orders []snapshotOrder `json:"orders"`
}

func key(symbolIndex uint32) []byte {
	return []byte(fmt.Sprintf("symbol:%010d", symbolIndex))
}

// Save persists snap's bid/ask ladders and the given resting orders under
// symbolIndex's key, overwriting any prior checkpoint for that symbol.
// Every level in snap is stored; the depth is whatever the caller chose
// when building snap (e.g. book.CheckpointSnapshot(n)).
func (s *Store) Save(symbolIndex uint32, snap book.Snapshot, orders []book.Order) error {
	doc := snapshotDoc{
		Bids:   toSnapshotLevels(snap.TopBidLevels),
		Asks:   toSnapshotLevels(snap.TopAskLevels),
		Orders: toSnapshotOrders(orders),
	}
	data, err := sonnet.Marshal(doc)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal symbol %d: %w", symbolIndex, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(symbolIndex), data)
	})
}

// Load retrieves the persisted state for symbolIndex, if any, as a
// book.RestoreState ready for book.Book.Restore.
func (s *Store) Load(symbolIndex uint32) (book.RestoreState, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(symbolIndex))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(v []byte) error {
			data = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return book.RestoreState{}, false, fmt.Errorf("checkpoint: load symbol %d: %w", symbolIndex, err)
	}
	if data == nil {
		return book.RestoreState{}, false, nil
	}

	var doc snapshotDoc
	if err := sonnet.Unmarshal(data, &doc); err != nil {
		return book.RestoreState{}, false, fmt.Errorf("checkpoint: unmarshal symbol %d: %w", symbolIndex, err)
	}

	return book.RestoreState{
		Bids:   fromSnapshotLevels(doc.Bids),
		Asks:   fromSnapshotLevels(doc.Asks),
		Orders: fromSnapshotOrders(doc.Orders),
	}, true, nil
}

func toSnapshotLevels(levels []book.Level) []snapshotLevel {
	out := make([]snapshotLevel, len(levels))
	for i, l := range levels {
		out[i] = snapshotLevel{Price: l.Price.String(), Aggregate: l.Aggregate}
	}
	return out
}

func fromSnapshotLevels(levels []snapshotLevel) []book.Level {
	out := make([]book.Level, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		out = append(out, book.Level{Price: price, Aggregate: l.Aggregate})
	}
	return out
}

func toSnapshotOrders(orders []book.Order) []snapshotOrder {
	out := make([]snapshotOrder, len(orders))
	for i, o := range orders {
		out[i] = snapshotOrder{OrderID: o.OrderID, PriceTick: o.PriceTick, Volume: o.Volume, Side: byte(o.Side)}
	}
	return out
}

func fromSnapshotOrders(orders []snapshotOrder) []book.Order {
	out := make([]book.Order, len(orders))
	for i, o := range orders {
		out[i] = book.Order{OrderID: o.OrderID, PriceTick: o.PriceTick, Volume: o.Volume, Side: xdp.Side(o.Side)}
	}
	return out
}
