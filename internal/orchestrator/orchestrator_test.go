package orchestrator

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HenryR2112/NYSE-XDP/internal/checkpoint"
	"github.com/HenryR2112/NYSE-XDP/internal/sim"
	"github.com/HenryR2112/NYSE-XDP/internal/symbolmap"
)

func loadSymbols(t *testing.T, rows ...string) *symbolmap.Map {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.csv")
	content := "symbol,cqs_symbol,symbol_id,exchange_code,listed_market,ticker_designation,lot_size,price_scale_code,system_id,asset_type,price_multiplier\n"
	for _, r := range rows {
		content += r + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	m, err := symbolmap.Load(path)
	require.NoError(t, err)
	return m
}

// buildAddOrderMsg returns one raw ADD_ORDER message, header included.
func buildAddOrderMsg(symbolIdx uint32, orderID uint64, priceRaw, volume uint32, side byte) []byte {
	const size = 39
	raw := make([]byte, size)
	binary.LittleEndian.PutUint16(raw[0:2], uint16(size))
	binary.LittleEndian.PutUint16(raw[2:4], 100) // MsgAddOrder
	binary.LittleEndian.PutUint32(raw[8:12], symbolIdx)
	binary.LittleEndian.PutUint64(raw[16:24], orderID)
	binary.LittleEndian.PutUint32(raw[24:28], priceRaw)
	binary.LittleEndian.PutUint32(raw[28:32], volume)
	raw[32] = side
	return raw
}

// buildXDPPacket concatenates a 16-byte packet header in front of the given
// messages, each already carrying its own message header.
func buildXDPPacket(seqNum uint32, messages ...[]byte) []byte {
	total := 16
	for _, m := range messages {
		total += len(m)
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	buf[2] = 0
	buf[3] = byte(len(messages))
	binary.LittleEndian.PutUint32(buf[4:8], seqNum)
	for _, m := range messages {
		buf = append(buf, m...)
	}
	return buf
}

// buildEthIPv4UDPFrame wraps payload in a minimal Ethernet + IPv4 + UDP
// frame, matching what internal/pcapreader expects to unwrap.
func buildEthIPv4UDPFrame(payload []byte) []byte {
	frame := make([]byte, 14+20+8+len(payload))
	binary.BigEndian.PutUint16(frame[12:14], 0x0800) // IPv4

	ip := frame[14:34]
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+8+len(payload)))
	ip[9] = 17 // UDP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})

	udp := frame[34:42]
	binary.BigEndian.PutUint16(udp[0:2], 30001)
	binary.BigEndian.PutUint16(udp[2:4], 30002)
	binary.BigEndian.PutUint16(udp[4:6], uint16(8+len(payload)))

	copy(frame[42:], payload)
	return frame
}

// writePcapFile writes a microsecond-resolution PCAP file containing one
// record per frame.
func writePcapFile(t *testing.T, path string, frames ...[]byte) {
	t.Helper()
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], 0xa1b2c3d4)
	binary.LittleEndian.PutUint16(buf[4:6], 2)
	binary.LittleEndian.PutUint16(buf[6:8], 4)
	binary.LittleEndian.PutUint32(buf[20:24], 1) // linktype doesn't matter to this reader

	for _, f := range frames {
		rec := make([]byte, 16+len(f))
		binary.LittleEndian.PutUint32(rec[8:12], uint32(len(f)))
		binary.LittleEndian.PutUint32(rec[12:16], uint32(len(f)))
		copy(rec[16:], f)
		buf = append(buf, rec...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func oneOrderPacket(symbolIdx uint32, orderID uint64) []byte {
	msg := buildAddOrderMsg(symbolIdx, orderID, 100_000_000, 500, 'B')
	pkt := buildXDPPacket(1, msg)
	return buildEthIPv4UDPFrame(pkt)
}

func TestGroupCountForChunkSizeSemantics(t *testing.T) {
	assert.Equal(t, 3, groupCountFor(10, 4))
	assert.Equal(t, 1, groupCountFor(3, 10))
	assert.Equal(t, 1, groupCountFor(0, 4))
}

func TestGroupCountForDefaultsToHostCoresCappedAtFileCount(t *testing.T) {
	got := groupCountFor(1, 0)
	assert.Equal(t, 1, got)
}

func TestPartitionGroupsBalancesBySizeDescending(t *testing.T) {
	files := []fileSize{
		{path: "a", size: 100},
		{path: "b", size: 10},
		{path: "c", size: 90},
		{path: "d", size: 5},
	}
	groups := partitionGroups(files, 2)
	require.Len(t, groups, 2)

	total := func(paths []string, sizes map[string]int64) int64 {
		var sum int64
		for _, p := range paths {
			sum += sizes[p]
		}
		return sum
	}
	sizes := map[string]int64{"a": 100, "b": 10, "c": 90, "d": 5}
	t0 := total(groups[0], sizes)
	t1 := total(groups[1], sizes)
	diff := t0 - t1
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, int64(5))
}

func TestRunSequentialProcessesOneFileThroughOneGroup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pcap")
	writePcapFile(t, path, oneOrderPacket(1, 10))

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001")
	o := New(symbols, sim.DefaultConfig(), "", nil)

	results, err := o.Run([]string{path}, ModeSequential, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Skipped)

	syms, _, skipped := Aggregate(results)
	assert.Empty(t, skipped)
	require.Len(t, syms, 1)
	assert.Equal(t, "AAA", syms[0].Ticker())
}

func TestRunHybridPartitionsFilesAcrossGroups(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.pcap")
	pathB := filepath.Join(dir, "b.pcap")
	writePcapFile(t, pathA, oneOrderPacket(1, 10))
	writePcapFile(t, pathB, oneOrderPacket(2, 11))

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001", "BBB,BBB,2,N,N,,100,6,1,CS,0.000001")
	o := New(symbols, sim.DefaultConfig(), "", nil)

	results, err := o.Run([]string{pathA, pathB}, ModeHybrid, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	syms, _, skipped := Aggregate(results)
	assert.Empty(t, skipped)
	assert.Len(t, syms, 2)
}

func TestRunThreadedSharesOneTableAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.pcap")
	pathB := filepath.Join(dir, "b.pcap")
	writePcapFile(t, pathA, oneOrderPacket(1, 10))
	writePcapFile(t, pathB, oneOrderPacket(2, 11))

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001", "BBB,BBB,2,N,N,,100,6,1,CS,0.000001")
	o := New(symbols, sim.DefaultConfig(), "", nil)

	results, err := o.Run([]string{pathA, pathB}, ModeThreaded, 0, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)

	syms, _, skipped := Aggregate(results)
	assert.Empty(t, skipped)
	assert.Len(t, syms, 2)
}

func TestRunSkipsUnreadableFileWithoutFailingTheRun(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.pcap")
	writePcapFile(t, good, oneOrderPacket(1, 10))
	bad := filepath.Join(dir, "missing.pcap")

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001")
	o := New(symbols, sim.DefaultConfig(), "", nil)

	results, err := o.Run([]string{good, bad}, ModeSequential, 0, 0)
	require.NoError(t, err)

	_, _, skipped := Aggregate(results)
	require.Len(t, skipped, 1)
	assert.Equal(t, bad, skipped[0].Path)
}

func TestRunPersistsCheckpointAtEndOfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pcap")
	writePcapFile(t, path, oneOrderPacket(1, 10))

	store, err := checkpoint.Open(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)
	defer store.Close()

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001")
	o := New(symbols, sim.DefaultConfig(), "", nil)
	o.Checkpoints = store

	_, err = o.Run([]string{path}, ModeSequential, 0, 0)
	require.NoError(t, err)

	_, found, err := store.Load(1)
	require.NoError(t, err)
	assert.True(t, found, "book state for symbol 1 should have been checkpointed")
}

func TestRestoreSymbolSeedsBookFromExistingCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pcap")
	writePcapFile(t, path, oneOrderPacket(1, 10))

	store, err := checkpoint.Open(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)
	defer store.Close()

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001")

	first := New(symbols, sim.DefaultConfig(), "", nil)
	first.Checkpoints = store
	_, err = first.Run([]string{path}, ModeSequential, 0, 0)
	require.NoError(t, err)

	second := New(symbols, sim.DefaultConfig(), "", nil)
	second.Checkpoints = store
	fresh := sim.New()
	fresh.EnsureInit(1, "AAA", sim.DefaultConfig())
	require.Zero(t, fresh.Book.Stats().TotalBidQty)

	second.restoreSymbol(1, fresh)
	assert.NotZero(t, fresh.Book.Stats().TotalBidQty, "restoreSymbol should have replayed the checkpointed bid into the fresh book")
}

func TestRunWithResumeAppliesPriorCheckpointBeforeReplayingNewFile(t *testing.T) {
	dir := t.TempDir()
	firstPath := filepath.Join(dir, "first.pcap")
	writePcapFile(t, firstPath, oneOrderPacket(1, 10)) // 500-share bid, order id 10

	store, err := checkpoint.Open(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)
	defer store.Close()

	symbols := loadSymbols(t, "AAA,AAA,1,N,N,,100,6,1,CS,0.000001")

	first := New(symbols, sim.DefaultConfig(), "", nil)
	first.Checkpoints = store
	_, err = first.Run([]string{firstPath}, ModeSequential, 0, 0)
	require.NoError(t, err)

	secondFrame := buildEthIPv4UDPFrame(buildXDPPacket(1, buildAddOrderMsg(1, 11, 100_000_000, 300, 'B')))
	secondPath := filepath.Join(dir, "second.pcap")
	writePcapFile(t, secondPath, secondFrame)

	// The Resume run goes first: every run with Checkpoints set saves at
	// end-of-file, so a run before it would overwrite the first checkpoint.
	withResume := New(symbols, sim.DefaultConfig(), "", nil)
	withResume.Checkpoints = store
	withResume.Resume = true
	resultsResume, err := withResume.Run([]string{secondPath}, ModeSequential, 0, 0)
	require.NoError(t, err)
	symsResume, _, _ := Aggregate(resultsResume)
	require.Len(t, symsResume, 1)
	assert.Equal(t, uint32(800), symsResume[0].Book.Stats().TotalBidQty, "Resume should seed the restored bid before the new file's order is added")

	withoutResume := New(symbols, sim.DefaultConfig(), "", nil)
	withoutResume.Checkpoints = store
	resultsNoResume, err := withoutResume.Run([]string{secondPath}, ModeSequential, 0, 0)
	require.NoError(t, err)
	symsNoResume, _, _ := Aggregate(resultsNoResume)
	require.Len(t, symsNoResume, 1)
	assert.Equal(t, uint32(300), symsNoResume[0].Book.Stats().TotalBidQty, "without Resume the checkpointed bid is not replayed")
}

func TestRunReturnsFatalErrorOnNoFiles(t *testing.T) {
	symbols := loadSymbols(t)
	o := New(symbols, sim.DefaultConfig(), "", nil)
	_, err := o.Run(nil, ModeHybrid, 0, 0)
	assert.Error(t, err)
}
