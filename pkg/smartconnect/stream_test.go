package smartconnect

import (
	"encoding/binary"
	"testing"
	"time"
)

func buildFrame(mode int, size int) []byte {
	b := make([]byte, size)
	b[0] = byte(mode)
	b[1] = ExchangeNSEFO
	copy(b[2:27], "40001")
	binary.LittleEndian.PutUint64(b[27:35], 7)                // sequence
	binary.LittleEndian.PutUint64(b[35:43], 1757000000000)    // exchange ts ms
	binary.LittleEndian.PutUint64(b[43:51], uint64(12345))    // ltp paise
	return b
}

func TestParseQuoteFrame_LTPMode(t *testing.T) {
	b := buildFrame(ModeLTP, 51)

	tick, err := parseQuoteFrame(b)
	if err != nil {
		t.Fatalf("parseQuoteFrame: %v", err)
	}
	if tick.Mode != ModeLTP {
		t.Errorf("Mode = %d, want %d", tick.Mode, ModeLTP)
	}
	if tick.Token != "40001" {
		t.Errorf("Token = %q, want 40001", tick.Token)
	}
	if tick.LTP != 12345 {
		t.Errorf("LTP = %d, want 12345", tick.LTP)
	}
	if tick.HasQuote {
		t.Error("HasQuote set for LTP-mode frame")
	}
	if got := tick.ExchangeTS; !got.Equal(time.UnixMilli(1757000000000)) {
		t.Errorf("ExchangeTS = %v", got)
	}
}

func TestParseQuoteFrame_QuoteMode(t *testing.T) {
	b := buildFrame(ModeQuote, 123)
	binary.LittleEndian.PutUint64(b[67:75], 5000)   // volume
	binary.LittleEndian.PutUint64(b[115:123], 9800) // prev close

	tick, err := parseQuoteFrame(b)
	if err != nil {
		t.Fatalf("parseQuoteFrame: %v", err)
	}
	if !tick.HasQuote {
		t.Fatal("HasQuote not set for quote-mode frame")
	}
	if tick.Volume != 5000 {
		t.Errorf("Volume = %d, want 5000", tick.Volume)
	}
	if tick.Close != 9800 {
		t.Errorf("Close = %d, want 9800", tick.Close)
	}
}

func TestParseQuoteFrame_SnapQuoteDepth(t *testing.T) {
	b := buildFrame(ModeSnapQuote, 379)
	binary.LittleEndian.PutUint64(b[131:139], 120000) // OI

	// best-five block: first packet buy at 12300, sixth packet sell at 12390
	depth := b[147:347]
	binary.LittleEndian.PutUint16(depth[0:2], 0) // buy flag
	binary.LittleEndian.PutUint64(depth[10:18], 12300)
	second := depth[5*20:]
	binary.LittleEndian.PutUint16(second[0:2], 1) // sell flag
	binary.LittleEndian.PutUint64(second[10:18], 12390)

	tick, err := parseQuoteFrame(b)
	if err != nil {
		t.Fatalf("parseQuoteFrame: %v", err)
	}
	if !tick.HasSnapOI {
		t.Fatal("HasSnapOI not set")
	}
	if tick.OI != 120000 {
		t.Errorf("OI = %d, want 120000", tick.OI)
	}
	if tick.BestBid != 12300 || tick.BestAsk != 12390 {
		t.Errorf("best bid/ask = %d/%d, want 12300/12390", tick.BestBid, tick.BestAsk)
	}
}

func TestParseQuoteFrame_TooShort(t *testing.T) {
	if _, err := parseQuoteFrame(make([]byte, 50)); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestExchangeCodeRoundTrip(t *testing.T) {
	for _, name := range []string{"NSE", "NFO", "BSE", "BFO"} {
		code, err := ExchangeCode(name)
		if err != nil {
			t.Fatalf("ExchangeCode(%s): %v", name, err)
		}
		if got := ExchangeName(code); got != name {
			t.Errorf("ExchangeName(%d) = %q, want %q", code, got, name)
		}
	}
	if _, err := ExchangeCode("MCX"); err == nil {
		t.Error("expected error for unmapped exchange")
	}
}

func TestMergeEntries_Deduplicates(t *testing.T) {
	merged := mergeEntries(
		[]TokenListEntry{{ExchangeType: ExchangeNSEFO, Tokens: []string{"1", "2"}}},
		[]TokenListEntry{{ExchangeType: ExchangeNSEFO, Tokens: []string{"2", "3"}}},
	)
	if len(merged) != 1 {
		t.Fatalf("merged groups = %d, want 1", len(merged))
	}
	if len(merged[0].Tokens) != 3 {
		t.Fatalf("merged tokens = %v, want 3 unique", merged[0].Tokens)
	}
}
