package analysis

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"BTC/USDT", "btcusdt"},
		{"btc-usdt", "btcusdt"},
		{"BtcUsdt", "btcusdt"},
		{" eth_usd ", "ethusd"},
		{"1000PEPE/USDT", "1000pepeusdt"},
		{"", ""},
		{"///", ""},
		{"ÉTH/USD", "thusd"},
	}

	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeSymbolIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"BTC/USDT", "btc-usdt", "CRYPTO", "Ünïcödé 42", "İstanbul", "a\x00b", "  ", "ETH/USD:perp",
	}
	for _, in := range inputs {
		once := NormalizeSymbol(in)
		if twice := NormalizeSymbol(once); twice != once {
			t.Errorf("NormalizeSymbol not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestSameSymbol(t *testing.T) {
	t.Parallel()

	if !SameSymbol("BTC/USDT", "btcusdt") {
		t.Error("BTC/USDT and btcusdt should match")
	}
	if SameSymbol("BTC/USDT", "ETH/USDT") {
		t.Error("BTC/USDT and ETH/USDT should not match")
	}
	if SameSymbol("", "") || SameSymbol("--", "/") {
		t.Error("empty keys should never match")
	}
}
