package xdp

import "encoding/binary"

func readLE16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func readLE32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func readLE64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// ParsePacketHeader decodes the 16-byte packet header. Returns false if buf
// is too short.
func ParsePacketHeader(buf []byte) (PacketHeader, bool) {
	if len(buf) < PacketHeaderSize {
		return PacketHeader{}, false
	}
	return PacketHeader{
		PacketSize:   readLE16(buf[0:2]),
		DeliveryFlag: buf[2],
		NumMessages:  buf[3],
		SeqNum:       readLE32(buf[4:8]),
		SendTimeSec:  readLE32(buf[8:12]),
		SendTimeNS:   readLE32(buf[12:16]),
	}, true
}

// ParseMessageHeader decodes the 4-byte message header. Returns false if buf
// is too short.
func ParseMessageHeader(buf []byte) (MessageHeader, bool) {
	if len(buf) < MessageHeaderSize {
		return MessageHeader{}, false
	}
	return MessageHeader{
		MsgSize: readLE16(buf[0:2]),
		MsgType: MessageType(readLE16(buf[2:4])),
	}, true
}

// Message is a single decoded XDP message: its type plus the raw message
// bytes (header included), ready for typed field extraction.
type Message struct {
	Type MessageType
	Raw  []byte
}

// IterMessages walks the messages in a packet payload (the bytes following
// the 16-byte packet header), calling fn for each one that is fully
// contained in buf. It implements the fail-soft contract of spec.md §4.1:
// if declaredCount exceeds what is actually decodable (a message's declared
// size would overrun the payload, or msg_size < 4), iteration stops at the
// last valid message and the count of messages actually decoded is
// returned — the caller is never handed a partial/garbage message and the
// loop never panics on truncated input.
func IterMessages(buf []byte, declaredCount int, fn func(Message)) int {
	offset := 0
	decoded := 0
	for decoded < declaredCount {
		remaining := buf[offset:]
		hdr, ok := ParseMessageHeader(remaining)
		if !ok {
			break
		}
		if hdr.MsgSize < MessageHeaderSize || int(hdr.MsgSize) > len(remaining) {
			break
		}
		fn(Message{Type: hdr.MsgType, Raw: remaining[:hdr.MsgSize]})
		offset += int(hdr.MsgSize)
		decoded++
	}
	return decoded
}

// SymbolIndex extracts the symbol index from a message's common header,
// accounting for the two header layouts in use (§4.1). Returns 0 if buf is
// too short to contain the field — callers treat 0 as "drop this message".
func SymbolIndex(t MessageType, buf []byte) uint32 {
	if HasNonStandardHeader(t) {
		if len(buf) < 16 {
			return 0
		}
		return readLE32(buf[12:16])
	}
	if len(buf) < 12 {
		return 0
	}
	return readLE32(buf[8:12])
}

// SourceTimeNS extracts the in-band XDP source/send timestamp in
// nanoseconds, for latency analysis only — never used to schedule the
// simulator (spec.md §4.1: the PCAP capture timestamp is the simulator's
// clock). Returns 0 if buf is too short.
func SourceTimeNS(t MessageType, buf []byte) uint64 {
	if HasNonStandardHeader(t) {
		if len(buf) < 12 {
			return 0
		}
		sec := uint64(readLE32(buf[4:8]))
		ns := uint64(readLE32(buf[8:12]))
		return sec*1_000_000_000 + ns
	}
	if len(buf) < 8 {
		return 0
	}
	return uint64(readLE32(buf[4:8]))
}

// AddOrder is the decoded payload of an ADD_ORDER (100) message.
type AddOrder struct {
	SrcTimeNS  uint64
	SymbolIdx  uint32
	SymbolSeq  uint32
	OrderID    uint64
	PriceRaw   uint32
	Volume     uint32
	Side       Side
}

// DecodeAddOrder decodes message type 100. raw must be the full message
// including its 4-byte header (>= 39 bytes).
func DecodeAddOrder(raw []byte) (AddOrder, bool) {
	if len(raw) < MessageSize[MsgAddOrder] {
		return AddOrder{}, false
	}
	return AddOrder{
		SrcTimeNS: uint64(readLE32(raw[4:8])),
		SymbolIdx: readLE32(raw[8:12]),
		SymbolSeq: readLE32(raw[12:16]),
		OrderID:   readLE64(raw[16:24]),
		PriceRaw:  readLE32(raw[24:28]),
		Volume:    readLE32(raw[28:32]),
		Side:      ParseSide(raw[32]),
	}, true
}

// ModifyOrder is the decoded payload of a MODIFY_ORDER (101) message.
type ModifyOrder struct {
	OrderID        uint64
	PriceRaw       uint32
	Volume         uint32
	PositionChange byte
}

func DecodeModifyOrder(raw []byte) (ModifyOrder, bool) {
	if len(raw) < MessageSize[MsgModifyOrder] {
		return ModifyOrder{}, false
	}
	return ModifyOrder{
		OrderID:        readLE64(raw[16:24]),
		PriceRaw:       readLE32(raw[24:28]),
		Volume:         readLE32(raw[28:32]),
		PositionChange: raw[32],
	}, true
}

// DeleteOrder is the decoded payload of a DELETE_ORDER (102) message.
type DeleteOrder struct {
	OrderID uint64
}

func DecodeDeleteOrder(raw []byte) (DeleteOrder, bool) {
	if len(raw) < MessageSize[MsgDeleteOrder] {
		return DeleteOrder{}, false
	}
	return DeleteOrder{OrderID: readLE64(raw[16:24])}, true
}

// ExecuteOrder is the decoded payload of an EXECUTE_ORDER (103) message.
type ExecuteOrder struct {
	OrderID       uint64
	TradeID       uint32
	PriceRaw      uint32
	Volume        uint32
	PrintableFlag byte
}

func DecodeExecuteOrder(raw []byte) (ExecuteOrder, bool) {
	if len(raw) < MessageSize[MsgExecuteOrder] {
		return ExecuteOrder{}, false
	}
	return ExecuteOrder{
		OrderID:       readLE64(raw[16:24]),
		TradeID:       readLE32(raw[24:28]),
		PriceRaw:      readLE32(raw[28:32]),
		Volume:        readLE32(raw[32:36]),
		PrintableFlag: raw[36],
	}, true
}

// ReplaceOrder is the decoded payload of a REPLACE_ORDER (104) message.
//
// The side field at offset 40 is treated as authoritative per the Open
// Question in spec.md §9 — flagged there, not re-derived here.
type ReplaceOrder struct {
	OldOrderID uint64
	NewOrderID uint64
	PriceRaw   uint32
	Volume     uint32
	Side       Side
}

func DecodeReplaceOrder(raw []byte) (ReplaceOrder, bool) {
	if len(raw) < MessageSize[MsgReplaceOrder] {
		return ReplaceOrder{}, false
	}
	return ReplaceOrder{
		OldOrderID: readLE64(raw[16:24]),
		NewOrderID: readLE64(raw[24:32]),
		PriceRaw:   readLE32(raw[32:36]),
		Volume:     readLE32(raw[36:40]),
		Side:       ParseSide(raw[40]),
	}, true
}

// Imbalance is the decoded payload of an IMBALANCE (105) message.
type Imbalance struct {
	ReferencePriceRaw   uint32
	PairedQty           uint32
	ImbalanceQty        uint32
	ImbalanceSide       Side
	IndicativeMatchRaw  uint32
	UnpairedSide        byte
	Significant         bool
}

func DecodeImbalance(raw []byte) (Imbalance, bool) {
	if len(raw) < MessageSize[MsgImbalance] {
		return Imbalance{}, false
	}
	return Imbalance{
		ReferencePriceRaw:  readLE32(raw[16:20]),
		PairedQty:          readLE32(raw[20:24]),
		ImbalanceQty:       readLE32(raw[24:28]),
		ImbalanceSide:      ParseSide(raw[28]),
		IndicativeMatchRaw: readLE32(raw[38:42]),
		UnpairedSide:       raw[71],
		Significant:        raw[72] == 'Y',
	}, true
}

// AddOrderRefresh is the decoded payload of an ADD_ORDER_REFRESH (106)
// message, which uses the non-standard common header layout.
type AddOrderRefresh struct {
	SrcTimeSec uint32
	SrcTimeNS  uint32
	SymbolIdx  uint32
	OrderID    uint64
	PriceRaw   uint32
	Volume     uint32
	Side       Side
}

func DecodeAddOrderRefresh(raw []byte) (AddOrderRefresh, bool) {
	if len(raw) < MessageSize[MsgAddOrderRefresh] {
		return AddOrderRefresh{}, false
	}
	return AddOrderRefresh{
		SrcTimeSec: readLE32(raw[4:8]),
		SrcTimeNS:  readLE32(raw[8:12]),
		SymbolIdx:  readLE32(raw[12:16]),
		OrderID:    readLE64(raw[20:28]),
		PriceRaw:   readLE32(raw[28:32]),
		Volume:     readLE32(raw[32:36]),
		Side:       ParseSide(raw[36]),
	}, true
}

// NonDisplayedTrade is the decoded payload of message type 110.
type NonDisplayedTrade struct {
	TradeID  uint64
	PriceRaw uint32
	Volume   uint32
}

func DecodeNonDisplayedTrade(raw []byte) (NonDisplayedTrade, bool) {
	if len(raw) < MessageSize[MsgNonDisplayedTrade] {
		return NonDisplayedTrade{}, false
	}
	return NonDisplayedTrade{
		TradeID:  readLE64(raw[16:24]),
		PriceRaw: readLE32(raw[24:28]),
		Volume:   readLE32(raw[28:32]),
	}, true
}

// CrossTrade is the decoded payload of message types 111 and 113 (Cross
// Trade / Cross Correction share the same layout).
type CrossTrade struct {
	CrossID   uint64
	PriceRaw  uint32
	Volume    uint32
	CrossType uint32
}

func DecodeCrossTrade(raw []byte) (CrossTrade, bool) {
	if len(raw) < MessageSize[MsgCrossTrade] {
		return CrossTrade{}, false
	}
	return CrossTrade{
		CrossID:   readLE64(raw[16:24]),
		PriceRaw:  readLE32(raw[24:28]),
		Volume:    readLE32(raw[28:32]),
		CrossType: readLE32(raw[32:36]),
	}, true
}

// TradeCancel is the decoded payload of message type 112.
type TradeCancel struct {
	TradeID  uint64
	PriceRaw uint32
	Volume   uint32
}

func DecodeTradeCancel(raw []byte) (TradeCancel, bool) {
	if len(raw) < MessageSize[MsgTradeCancel] {
		return TradeCancel{}, false
	}
	return TradeCancel{
		TradeID:  readLE64(raw[16:24]),
		PriceRaw: readLE32(raw[24:28]),
		Volume:   readLE32(raw[28:32]),
	}, true
}

// RetailPriceImprovement is the decoded payload of message type 114.
type RetailPriceImprovement struct {
	Indicator byte // one of ' ', 'A', 'B', 'C'
}

func DecodeRetailPriceImprovement(raw []byte) (RetailPriceImprovement, bool) {
	if len(raw) < MessageSize[MsgRetailPriceImprovement] {
		return RetailPriceImprovement{}, false
	}
	return RetailPriceImprovement{Indicator: raw[16]}, true
}

// StockSummary is the decoded payload of message type 223, which uses the
// non-standard common header layout.
type StockSummary struct {
	SrcTimeSec  uint32
	SrcTimeNS   uint32
	SymbolIdx   uint32
	HighRaw     uint32
	LowRaw      uint32
	OpenRaw     uint32
	CloseRaw    uint32
	TotalVolume uint32
}

func DecodeStockSummary(raw []byte) (StockSummary, bool) {
	if len(raw) < MessageSize[MsgStockSummary] {
		return StockSummary{}, false
	}
	return StockSummary{
		SrcTimeSec:  readLE32(raw[4:8]),
		SrcTimeNS:   readLE32(raw[8:12]),
		SymbolIdx:   readLE32(raw[12:16]),
		HighRaw:     readLE32(raw[16:20]),
		LowRaw:      readLE32(raw[20:24]),
		OpenRaw:     readLE32(raw[24:28]),
		CloseRaw:    readLE32(raw[28:32]),
		TotalVolume: readLE32(raw[32:36]),
	}, true
}
