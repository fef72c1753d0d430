package main

import (
	"flag"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/HenryR2112/NYSE-XDP/internal/pcapreader"
	"github.com/HenryR2112/NYSE-XDP/internal/symbolmap"
	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

// runInspect implements the "xdpmm inspect" subcommand: a dump-only replay
// of one capture file's decoded messages, grounded on the original reader's
// verbose/simple print modes and per-message-type field dump (see
// _examples/original_source/src/reader.cpp's print_message_fields).
func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	tickerFilter := fs.String("t", "", "only print messages for this ticker (requires -s)")
	typeFilter := fs.String("m", "", "only print messages of this type name (e.g. ADD_ORDER)")
	symbolFile := fs.String("s", "", "symbol map CSV, for resolving tickers and price multipliers")
	verbose := fs.Bool("v", false, "print every decoded field, one per line, instead of a compact summary")
	countsOnly := fs.Bool("counts", false, "suppress per-message printing; only print the final per-type counts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: xdpmm inspect [-t ticker] [-m type] [-s symbols.csv] [-v] [-counts] <capture.pcap>")
	}
	path := fs.Arg(0)

	var symbols *symbolmap.Map
	if *symbolFile != "" {
		loaded, err := symbolmap.Load(*symbolFile)
		if err != nil {
			return fmt.Errorf("load symbol map %s: %w", *symbolFile, err)
		}
		symbols = loaded
	} else {
		symbols = symbolmap.New()
	}

	reader, err := pcapreader.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	runID := uuid.New()
	fmt.Printf("xdpmm inspect run=%s file=%s\n", runID, path)

	typeCounts := make(map[string]uint64)
	symbolCounts := make(map[uint32]uint64)
	var packets, messages uint64

	reader.Each(func(pkt pcapreader.Packet) {
		hdr, ok := xdp.ParsePacketHeader(pkt.Payload)
		if !ok || len(pkt.Payload) < xdp.PacketHeaderSize {
			return
		}
		packets++
		body := pkt.Payload[xdp.PacketHeaderSize:]
		xdp.IterMessages(body, int(hdr.NumMessages), func(msg xdp.Message) {
			messages++
			typeName := xdp.MessageTypeName(msg.Type)
			typeCounts[typeName]++

			if *typeFilter != "" && typeName != *typeFilter {
				return
			}

			idx := xdp.SymbolIndex(msg.Type, msg.Raw)
			ticker := symbols.Ticker(idx)
			if *tickerFilter != "" && ticker != *tickerFilter {
				return
			}

			symbolCounts[idx]++

			if *countsOnly {
				return
			}
			multiplier := symbols.PriceMultiplier(idx)
			printMessage(pkt.TimestampNs, typeName, ticker, idx, symbolCounts[idx], multiplier, msg, *verbose)
		})
	})

	fmt.Printf("\n%d packets, %d messages decoded\n", packets, messages)
	fmt.Println("by type:")
	for _, name := range orderedTypeNames(typeCounts) {
		fmt.Printf("  %-24s %d\n", name, typeCounts[name])
	}
	fmt.Println("by symbol:")
	for _, idx := range orderedSymbolIndices(symbolCounts) {
		fmt.Printf("  symbol_idx=%-10d ticker=%-8q %d\n", idx, symbols.Ticker(idx), symbolCounts[idx])
	}
	return nil
}

// printMessage prints one decoded message's fields, either as a one-line
// compact summary or, in verbose mode, one field per line. msgNum is this
// message's 1-based ordinal among every message seen so far for
// symbolIdx (post-filter), mirroring reader.cpp's g_symbol_msg_counters
// sequence numbering.
func printMessage(tsNs uint64, typeName, ticker string, symbolIdx uint32, msgNum uint64, multiplier float64, msg xdp.Message, verbose bool) {
	line := fmt.Sprintf("ts=%d type=%-20s symbol_idx=%d ticker=%q msg_num=%d", tsNs, typeName, symbolIdx, ticker, msgNum)

	switch msg.Type {
	case xdp.MsgAddOrder:
		a, ok := xdp.DecodeAddOrder(msg.Raw)
		if !ok {
			break
		}
		price := xdp.ParsePrice(a.PriceRaw, multiplier)
		if verbose {
			fmt.Println(line)
			fmt.Printf("  order_id=%d price=%s volume=%d side=%c\n", a.OrderID, price, a.Volume, a.Side)
			return
		}
		fmt.Printf("%s order_id=%d price=%s volume=%d side=%c\n", line, a.OrderID, price, a.Volume, a.Side)
		return

	case xdp.MsgModifyOrder:
		m, ok := xdp.DecodeModifyOrder(msg.Raw)
		if !ok {
			break
		}
		price := xdp.ParsePrice(m.PriceRaw, multiplier)
		if verbose {
			fmt.Println(line)
			fmt.Printf("  order_id=%d price=%s volume=%d position_change=%d\n", m.OrderID, price, m.Volume, m.PositionChange)
			return
		}
		fmt.Printf("%s order_id=%d price=%s volume=%d\n", line, m.OrderID, price, m.Volume)
		return

	case xdp.MsgDeleteOrder:
		d, ok := xdp.DecodeDeleteOrder(msg.Raw)
		if !ok {
			break
		}
		fmt.Printf("%s order_id=%d\n", line, d.OrderID)
		return

	case xdp.MsgExecuteOrder:
		e, ok := xdp.DecodeExecuteOrder(msg.Raw)
		if !ok {
			break
		}
		price := xdp.ParsePrice(e.PriceRaw, multiplier)
		if verbose {
			fmt.Println(line)
			fmt.Printf("  order_id=%d trade_id=%d price=%s volume=%d printable=%d\n", e.OrderID, e.TradeID, price, e.Volume, e.PrintableFlag)
			return
		}
		fmt.Printf("%s order_id=%d price=%s volume=%d\n", line, e.OrderID, price, e.Volume)
		return

	case xdp.MsgReplaceOrder:
		r, ok := xdp.DecodeReplaceOrder(msg.Raw)
		if !ok {
			break
		}
		price := xdp.ParsePrice(r.PriceRaw, multiplier)
		if verbose {
			fmt.Println(line)
			fmt.Printf("  old_order_id=%d new_order_id=%d price=%s volume=%d side=%c\n", r.OldOrderID, r.NewOrderID, price, r.Volume, r.Side)
			return
		}
		fmt.Printf("%s old_order_id=%d new_order_id=%d price=%s volume=%d\n", line, r.OldOrderID, r.NewOrderID, price, r.Volume)
		return

	case xdp.MsgImbalance:
		im, ok := xdp.DecodeImbalance(msg.Raw)
		if !ok {
			break
		}
		refPrice := xdp.ParsePrice(im.ReferencePriceRaw, multiplier)
		fmt.Printf("%s reference_price=%s paired_qty=%d imbalance_qty=%d side=%c significant=%t\n",
			line, refPrice, im.PairedQty, im.ImbalanceQty, im.ImbalanceSide, im.Significant)
		return

	case xdp.MsgStockSummary:
		s, ok := xdp.DecodeStockSummary(msg.Raw)
		if !ok {
			break
		}
		fmt.Printf("%s high=%s low=%s open=%s close=%s volume=%d\n",
			line,
			xdp.ParsePrice(s.HighRaw, multiplier), xdp.ParsePrice(s.LowRaw, multiplier),
			xdp.ParsePrice(s.OpenRaw, multiplier), xdp.ParsePrice(s.CloseRaw, multiplier),
			s.TotalVolume)
		return
	}

	fmt.Println(line)
}

func orderedTypeNames(counts map[string]uint64) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func orderedSymbolIndices(counts map[uint32]uint64) []uint32 {
	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}
