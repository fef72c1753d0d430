// Package pcapreader parses standard libpcap capture files and extracts
// the UDP payloads of IPv4 packets, which for an XDP capture is the raw
// XDP wire format consumed by internal/xdp.
package pcapreader

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"os"
)

const (
	magicMicrosec = 0xa1b2c3d4
	magicNanosec  = 0xa1b23c4d

	fileHeaderSize   = 24
	packetHeaderSize = 16

	ethHeaderSize     = 14
	ethVLANHeaderSize = 18

	ethTypeIPv4 = 0x0800
	ethTypeVLAN = 0x8100
	ethTypeQinQ = 0x88a8

	ipProtocolUDP  = 17
	minIPHeaderLen = 20
	udpHeaderSize  = 8
)

// Packet is one decoded capture record: the UDP payload (the XDP wire
// frame) plus its capture timestamp and IP/UDP envelope, for callers that
// want to log or filter by source.
type Packet struct {
	TimestampNs uint64
	Payload     []byte
	SrcIP       netip.Addr
	DstIP       netip.Addr
	SrcPort     uint16
	DstPort     uint16
}

// Reader holds one PCAP file, read whole into memory, and iterates its records.
type Reader struct {
	data       []byte
	isNanosec  bool
}

// Open reads filename fully into memory and validates its PCAP global
// header. Returns an error (never panics) on a missing file, a file too
// small to hold the header, or an unrecognized magic number — all of
// which are per-file skip conditions for the caller, not fatal ones.
func Open(filename string) (*Reader, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("pcapreader: open %s: %w", filename, err)
	}
	if len(data) < fileHeaderSize {
		return nil, fmt.Errorf("pcapreader: %s: file too small for PCAP header", filename)
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	var isNanosec bool
	switch magic {
	case magicMicrosec:
		isNanosec = false
	case magicNanosec:
		isNanosec = true
	default:
		return nil, fmt.Errorf("pcapreader: %s: invalid PCAP magic number 0x%08x", filename, magic)
	}

	return &Reader{data: data, isNanosec: isNanosec}, nil
}

// Close releases the reader's in-memory copy of the file.
func (r *Reader) Close() { r.data = nil }

// Each iterates every well-formed record in capture order, calling fn with
// the decoded Ethernet/VLAN/IPv4/UDP-unwrapped packet. A truncated record
// header or record body stops iteration at the last fully-read record,
// matching every other fail-soft boundary in this module; non-IPv4/UDP
// records and packets too short to carry an Ethernet header are silently
// skipped rather than treated as truncation.
func (r *Reader) Each(fn func(Packet)) {
	offset := fileHeaderSize
	for offset+packetHeaderSize <= len(r.data) {
		tsSec := binary.LittleEndian.Uint32(r.data[offset : offset+4])
		tsFrac := binary.LittleEndian.Uint32(r.data[offset+4 : offset+8])
		inclLen := binary.LittleEndian.Uint32(r.data[offset+8 : offset+12])

		dataOffset := offset + packetHeaderSize
		if dataOffset+int(inclLen) > len(r.data) {
			break // truncated packet record
		}

		var tsNs uint64
		if r.isNanosec {
			tsNs = uint64(tsSec)*1_000_000_000 + uint64(tsFrac)
		} else {
			tsNs = uint64(tsSec)*1_000_000_000 + uint64(tsFrac)*1000
		}

		raw := r.data[dataOffset : dataOffset+int(inclLen)]
		if pkt, ok := parseEthernetIPv4UDP(raw); ok {
			pkt.TimestampNs = tsNs
			fn(pkt)
		}

		offset = dataOffset + int(inclLen)
	}
}

// parseEthernetIPv4UDP unwraps an Ethernet frame (with up to two stacked
// VLAN tags), an IPv4 header, and a UDP header, returning the UDP payload.
// Anything other than an IPv4/UDP frame is silently rejected.
func parseEthernetIPv4UDP(frame []byte) (Packet, bool) {
	if len(frame) < ethHeaderSize {
		return Packet{}, false
	}

	ethType := binary.BigEndian.Uint16(frame[12:14])
	hdrLen := ethHeaderSize
	for i := 0; i < 2 && (ethType == ethTypeVLAN || ethType == ethTypeQinQ); i++ {
		if len(frame) < hdrLen+4 {
			return Packet{}, false
		}
		ethType = binary.BigEndian.Uint16(frame[hdrLen+2 : hdrLen+4])
		hdrLen += 4
	}
	if ethType != ethTypeIPv4 {
		return Packet{}, false
	}

	if len(frame) < hdrLen+minIPHeaderLen {
		return Packet{}, false
	}
	ipHeader := frame[hdrLen:]
	ipVerIHL := ipHeader[0]
	ipHeaderLen := int(ipVerIHL&0x0f) * 4
	protocol := ipHeader[9]

	srcIP, _ := netip.AddrFromSlice(ipHeader[12:16])
	dstIP, _ := netip.AddrFromSlice(ipHeader[16:20])

	if protocol != ipProtocolUDP {
		return Packet{}, false
	}

	udpOffset := hdrLen + ipHeaderLen
	if len(frame) < udpOffset+udpHeaderSize {
		return Packet{}, false
	}
	udpHeader := frame[udpOffset:]
	srcPort := binary.BigEndian.Uint16(udpHeader[0:2])
	dstPort := binary.BigEndian.Uint16(udpHeader[2:4])
	udpLen := int(binary.BigEndian.Uint16(udpHeader[4:6]))

	payloadStart := udpOffset + udpHeaderSize
	payloadLen := udpLen - udpHeaderSize
	if maxLen := len(frame) - payloadStart; payloadLen > maxLen {
		payloadLen = maxLen
	}
	if payloadLen <= 0 {
		return Packet{}, false
	}

	return Packet{
		Payload: frame[payloadStart : payloadStart+payloadLen],
		SrcIP:   srcIP,
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
	}, true
}
