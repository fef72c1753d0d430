// Package metrics exposes the Prometheus collectors for this run: decode
// throughput, fill counts per strategy, and per-shard queue depth. Adapted
// from the teacher's pkg/metrics — the DB-pool gauges have no home in an
// offline batch analyzer and are dropped (see DESIGN.md); the metric names
// are renamed from the teacher's pincex_* prefix to this domain's.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagesDecoded counts XDP messages successfully decoded, by message
// type name (e.g. "ADD_ORDER").
var MessagesDecoded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xdpmm_messages_decoded_total",
		Help: "Total number of XDP messages successfully decoded, by message type",
	},
	[]string{"msg_type"},
)

// PacketsDropped counts fail-soft per-packet framing failures (§7 taxon 3).
var PacketsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xdpmm_packets_dropped_total",
		Help: "Total number of packets with a fail-soft framing failure, by reason",
	},
	[]string{"reason"},
)

// FillsExecuted counts simulated virtual-order fills, by strategy
// ("baseline" or "toxicity").
var FillsExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xdpmm_fills_executed_total",
		Help: "Total number of simulated fills, by strategy",
	},
	[]string{"strategy"},
)

// ShardQueueDepth reports the number of initialized symbol slots currently
// held by each of the 64 dispatch shards, sampled at run completion.
var ShardQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "xdpmm_shard_symbol_count",
		Help: "Number of initialized per-symbol simulator slots per dispatch shard",
	},
	[]string{"shard"},
)

// DecodeLatency records the wall-clock time to fully process one capture
// file (decode + dispatch + simulate), for comparing sequential/threaded/
// hybrid modes.
var DecodeLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "xdpmm_file_processing_seconds",
		Help:    "Wall-clock seconds to decode and simulate one capture file",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(MessagesDecoded, PacketsDropped, FillsExecuted, ShardQueueDepth, DecodeLatency)
}
