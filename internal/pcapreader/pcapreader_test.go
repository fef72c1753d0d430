package pcapreader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildEthIPv4UDP constructs a minimal Ethernet/IPv4/UDP frame wrapping
// payload, optionally prefixed by nVLAN 802.1Q tags.
func buildEthIPv4UDP(t *testing.T, payload []byte, nVLAN int) []byte {
	t.Helper()
	udp := make([]byte, udpHeaderSize+len(payload))
	binary.BigEndian.PutUint16(udp[0:2], 5555)
	binary.BigEndian.PutUint16(udp[2:4], 6666)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[udpHeaderSize:], payload)

	ip := make([]byte, minIPHeaderLen+len(udp))
	ip[0] = 0x45 // version 4, IHL 5 (20 bytes)
	ip[9] = ipProtocolUDP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})
	copy(ip[minIPHeaderLen:], udp)

	frame := make([]byte, 0, ethHeaderSize+4*nVLAN+len(ip))
	frame = append(frame, make([]byte, 12)...) // dst+src MAC
	for i := 0; i < nVLAN; i++ {
		frame = binary.BigEndian.AppendUint16(frame, ethTypeVLAN)
		frame = binary.BigEndian.AppendUint16(frame, 0) // VLAN tag control info
	}
	frame = binary.BigEndian.AppendUint16(frame, ethTypeIPv4)
	frame = append(frame, ip...)
	return frame
}

func writePcap(t *testing.T, nanosec bool, frames [][]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	hdr := make([]byte, fileHeaderSize)
	magic := uint32(magicMicrosec)
	if nanosec {
		magic = magicNanosec
	}
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	_, err = f.Write(hdr)
	require.NoError(t, err)

	for i, frame := range frames {
		rec := make([]byte, packetHeaderSize)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(i)) // ts_sec
		binary.LittleEndian.PutUint32(rec[4:8], 0)          // ts_usec/nsec
		binary.LittleEndian.PutUint32(rec[8:12], uint32(len(frame)))
		binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))
		_, err = f.Write(rec)
		require.NoError(t, err)
		_, err = f.Write(frame)
		require.NoError(t, err)
	}
	return path
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pcap")
	require.NoError(t, os.WriteFile(path, make([]byte, 32), 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpenRejectsTooSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.pcap")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestEachExtractsUDPPayload(t *testing.T) {
	payload := []byte("XDP-MESSAGE-BYTES")
	frame := buildEthIPv4UDP(t, payload, 0)
	path := writePcap(t, false, [][]byte{frame})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []Packet
	r.Each(func(p Packet) { got = append(got, p) })

	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Payload)
	assert.Equal(t, uint16(5555), got[0].SrcPort)
	assert.Equal(t, uint16(6666), got[0].DstPort)
}

func TestEachUnwrapsSingleVLANTag(t *testing.T) {
	payload := []byte("VLAN-TAGGED")
	frame := buildEthIPv4UDP(t, payload, 1)
	path := writePcap(t, false, [][]byte{frame})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []Packet
	r.Each(func(p Packet) { got = append(got, p) })
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Payload)
}

func TestEachSkipsNonIPv4Frames(t *testing.T) {
	frame := make([]byte, ethHeaderSize+4)
	binary.BigEndian.PutUint16(frame[12:14], 0x86dd) // IPv6 ethertype
	path := writePcap(t, false, [][]byte{frame})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	count := 0
	r.Each(func(Packet) { count++ })
	assert.Equal(t, 0, count)
}

func TestEachStopsAtTruncatedRecord(t *testing.T) {
	good := buildEthIPv4UDP(t, []byte("ok"), 0)
	path := writePcap(t, false, [][]byte{good})

	// Append a truncated record header claiming a huge inclLen.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	rec := make([]byte, packetHeaderSize)
	binary.LittleEndian.PutUint32(rec[8:12], 1<<20)
	_, err = f.Write(rec)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []Packet
	r.Each(func(p Packet) { got = append(got, p) })
	require.Len(t, got, 1, "the well-formed record before the truncated one must still be returned")
}

func TestNanosecondTimestampMagic(t *testing.T) {
	frame := buildEthIPv4UDP(t, []byte("ns"), 0)
	path := writePcap(t, true, [][]byte{frame})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.isNanosec)
}
