// Package symbolmap loads the symbol_id -> ticker/multiplier mapping that
// the XDP wire decoder needs to turn raw integer prices into dollars and
// raw symbol indices into tickers.
package symbolmap

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

// Info is the full symbol record, mirroring every column of the CSV
// described in spec.md §6 (the original reference loader keeps only the
// ticker; price_scale_code is load-bearing here, supplying the multiplier
// when price_multiplier is absent — see SPEC_FULL.md's supplemented-features
// section). LotSize is loaded but not consulted by the book.
type Info struct {
	Symbol             string
	CQSSymbol          string
	SymbolID           uint32
	ExchangeCode       string
	ListedMarket       string
	TickerDesignation  string
	LotSize            uint32
	PriceScaleCode     uint8
	SystemID           uint32
	AssetType          string
	PriceMultiplier    float64
}

// Map indexes symbol records by their 32-bit symbol_id.
type Map struct {
	byIndex map[uint32]Info
}

// New returns an empty Map.
func New() *Map {
	return &Map{byIndex: make(map[uint32]Info)}
}

// Ticker returns the ticker for an index, or "" if unmapped.
func (m *Map) Ticker(index uint32) string {
	if info, ok := m.byIndex[index]; ok {
		return info.Symbol
	}
	return ""
}

// Info returns the full record for an index and whether it was found.
func (m *Map) Info(index uint32) (Info, bool) {
	info, ok := m.byIndex[index]
	return info, ok
}

// PriceMultiplier returns the multiplier to convert a raw integer price to
// dollars for the given symbol index, defaulting to xdp.DefaultPriceMultiplier
// when the symbol is unmapped or carries no multiplier.
func (m *Map) PriceMultiplier(index uint32) float64 {
	if info, ok := m.byIndex[index]; ok && info.PriceMultiplier > 0 {
		return info.PriceMultiplier
	}
	return xdp.DefaultPriceMultiplier
}

// Contains reports whether index has a mapped, non-empty ticker.
func (m *Map) Contains(index uint32) bool {
	info, ok := m.byIndex[index]
	return ok && info.Symbol != ""
}

// Len returns the number of loaded symbols.
func (m *Map) Len() int { return len(m.byIndex) }

// Load reads a symbol map CSV from path, per spec.md §6: a header row
// followed by rows of at least 11 pipe- or comma-delimited fields in the
// order symbol, cqs_symbol, symbol_id, exchange_code, listed_market,
// ticker_designation, lot_size, price_scale_code, system_id, asset_type,
// price_multiplier. A legacy pipe-delimited SYMBOL|EXCHANGE|INDEX form
// (fields beyond position 2 ignored) is also accepted. Malformed rows are
// skipped; Load never returns an error for a malformed row, only for an
// unreadable file, matching the per-file-skip error taxon of spec.md §7.
func Load(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := New()
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lineNum == 1 && looksLikeHeader(line) {
			continue
		}
		if info, ok := parseRow(line); ok {
			m.byIndex[info.SymbolID] = info
		}
	}
	return m, scanner.Err()
}

func looksLikeHeader(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "symbol") && !isAllDigitsOrDelims(line)
}

func isAllDigitsOrDelims(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' && r != '|' && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

func splitFields(line string) []string {
	delim := ","
	if strings.Contains(line, "|") {
		delim = "|"
	}
	parts := strings.Split(line, delim)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseRow(line string) (Info, bool) {
	fields := splitFields(line)

	// Legacy SYMBOL|EXCHANGE|INDEX: exactly the pipe-delimited 3-field form.
	if strings.Contains(line, "|") && len(fields) == 3 {
		idx, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return Info{}, false
		}
		return Info{
			Symbol:          fields[0],
			ExchangeCode:    fields[1],
			SymbolID:        uint32(idx),
			PriceMultiplier: xdp.DefaultPriceMultiplier,
		}, true
	}

	if len(fields) < 11 {
		return Info{}, false
	}

	symbolID, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Info{}, false
	}
	lotSize, _ := strconv.ParseUint(fields[6], 10, 32)
	scaleCode, _ := strconv.ParseUint(fields[7], 10, 8)
	systemID, _ := strconv.ParseUint(fields[8], 10, 32)

	multiplier, err := strconv.ParseFloat(fields[10], 64)
	if err != nil || multiplier <= 0 {
		multiplier = priceMultiplierFromScaleCode(uint8(scaleCode))
	}

	return Info{
		Symbol:            fields[0],
		CQSSymbol:         fields[1],
		SymbolID:          uint32(symbolID),
		ExchangeCode:      fields[3],
		ListedMarket:      fields[4],
		TickerDesignation: fields[5],
		LotSize:           uint32(lotSize),
		PriceScaleCode:    uint8(scaleCode),
		SystemID:          uint32(systemID),
		AssetType:         fields[9],
		PriceMultiplier:   multiplier,
	}, true
}

// priceMultiplierFromScaleCode applies the NYSE XDP convention
// multiplier = 10^-price_scale_code, e.g. scale_code=6 -> 1e-6.
func priceMultiplierFromScaleCode(scaleCode uint8) float64 {
	if scaleCode == 0 {
		return xdp.DefaultPriceMultiplier
	}
	mult := 1.0
	for i := uint8(0); i < scaleCode; i++ {
		mult /= 10
	}
	return mult
}
