// Package xdp decodes NYSE XDP Integrated Feed packet and message framing.
//
// Framing and field offsets follow the NYSE XDP Integrated Feed wire format:
// a 16-byte packet header followed by a run of variable-length messages,
// each prefixed by a 4-byte message header. All integers are little-endian.
package xdp

// MessageType identifies an XDP message's wire type.
type MessageType uint16

const (
	MsgAddOrder               MessageType = 100
	MsgModifyOrder            MessageType = 101
	MsgDeleteOrder            MessageType = 102
	MsgExecuteOrder           MessageType = 103
	MsgReplaceOrder           MessageType = 104
	MsgImbalance              MessageType = 105
	MsgAddOrderRefresh        MessageType = 106
	MsgNonDisplayedTrade      MessageType = 110
	MsgCrossTrade             MessageType = 111
	MsgTradeCancel            MessageType = 112
	MsgCrossCorrection        MessageType = 113
	MsgRetailPriceImprovement MessageType = 114
	MsgStockSummary           MessageType = 223
)

// Side is the resting side of an order.
type Side byte

const (
	SideUnknown Side = '?'
	SideBuy     Side = 'B'
	SideSell    Side = 'S'
)

// ParseSide converts a raw wire side byte to a Side. The protocol has been
// observed to encode side both as the ASCII characters 'B'/'S' and as the
// small integers 1/2; both are accepted.
func ParseSide(raw byte) Side {
	switch raw {
	case 'B', 1:
		return SideBuy
	case 'S', 2:
		return SideSell
	default:
		return SideUnknown
	}
}

// MessageSize is the fixed wire size (including the 4-byte message header)
// for each known message type. Messages outside this table are unknown
// types and are skipped by the dispatcher per the fail-soft contract.
var MessageSize = map[MessageType]int{
	MsgAddOrder:               39,
	MsgModifyOrder:            35,
	MsgDeleteOrder:            25,
	MsgExecuteOrder:           42,
	MsgReplaceOrder:           42,
	MsgImbalance:              73,
	MsgAddOrderRefresh:        43,
	MsgNonDisplayedTrade:      32,
	MsgCrossTrade:             40,
	MsgTradeCancel:            32,
	MsgCrossCorrection:        40,
	MsgRetailPriceImprovement: 17,
	MsgStockSummary:           36,
}

const (
	PacketHeaderSize  = 16
	MessageHeaderSize = 4
	CommonHeaderSize  = 16
)

// HasNonStandardHeader reports whether a message type places its common
// header fields at the 106/223 offsets (SourceTimeSec@4, SourceTimeNS@8,
// SymbolIndex@12) rather than the standard layout (SourceTimeNS@4,
// SymbolIndex@8, SymbolSeq@12).
func HasNonStandardHeader(t MessageType) bool {
	return t == MsgAddOrderRefresh || t == MsgStockSummary
}

// MessageTypeName returns a human-readable name for a message type, used by
// the inspect subcommand and diagnostics. Unknown types return "UNKNOWN".
func MessageTypeName(t MessageType) string {
	switch t {
	case MsgAddOrder:
		return "ADD_ORDER"
	case MsgModifyOrder:
		return "MODIFY_ORDER"
	case MsgDeleteOrder:
		return "DELETE_ORDER"
	case MsgExecuteOrder:
		return "EXECUTE_ORDER"
	case MsgReplaceOrder:
		return "REPLACE_ORDER"
	case MsgImbalance:
		return "IMBALANCE"
	case MsgAddOrderRefresh:
		return "ADD_ORDER_REFRESH"
	case MsgNonDisplayedTrade:
		return "NON_DISPLAYED_TRADE"
	case MsgCrossTrade:
		return "CROSS_TRADE"
	case MsgTradeCancel:
		return "TRADE_CANCEL"
	case MsgCrossCorrection:
		return "CROSS_CORRECTION"
	case MsgRetailPriceImprovement:
		return "RETAIL_PRICE_IMPROVEMENT"
	case MsgStockSummary:
		return "STOCK_SUMMARY"
	default:
		return "UNKNOWN"
	}
}

// PacketHeader is the 16-byte header preceding every XDP packet payload.
type PacketHeader struct {
	PacketSize   uint16
	DeliveryFlag uint8
	NumMessages  uint8
	SeqNum       uint32
	SendTimeSec  uint32
	SendTimeNS   uint32
}

// MessageHeader is the 4-byte header preceding every XDP message.
// MsgSize includes these 4 bytes.
type MessageHeader struct {
	MsgSize uint16
	MsgType MessageType
}
