package analysis

import "testing"

func TestClassifyStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		wantOK bool
		want   StartCue
	}{
		{
			name:   "starting analysis with pair and timeframe",
			text:   "Starting technical analysis for BTC/USDT on the 1H timeframe",
			wantOK: true,
			want:   StartCue{Symbol: "BTC/USDT", Timeframe: "1H", SymbolFound: true, TimeframeFound: true},
		},
		{
			name:   "checking with instrument",
			text:   "Checking ETH/USD on the 4 hour chart",
			wantOK: true,
			want:   StartCue{Symbol: "ETH/USD", Timeframe: "4H", SymbolFound: true, TimeframeFound: true},
		},
		{
			name:   "analyzing now without pair",
			text:   "Analyzing SOL now",
			wantOK: true,
			want:   StartCue{Symbol: PlaceholderSymbol, Timeframe: DefaultTimeframe},
		},
		{
			name:   "spoken coin name and named timeframe",
			text:   "Let me analyze bitcoin on the daily timeframe",
			wantOK: true,
			want:   StartCue{Symbol: "BTC/USDT", Timeframe: "1D", SymbolFound: true, TimeframeFound: true},
		},
		{
			name:   "running analysis with prefix timeframe",
			text:   "Running a full analysis of ETHBTC on H4",
			wantOK: true,
			want:   StartCue{Symbol: "ETH/BTC", Timeframe: "4H", SymbolFound: true, TimeframeFound: true},
		},
		{
			name:   "zero count timeframe falls back to default",
			text:   "Starting analysis of BTC/USDT on 0h",
			wantOK: true,
			want:   StartCue{Symbol: "BTC/USDT", Timeframe: DefaultTimeframe, SymbolFound: true},
		},
		{
			name: "greeting",
			text: "Hello! How can I help you today?",
		},
		{
			name: "checking without instrument",
			text: "Checking the weather for you",
		},
		{
			name: "price quote",
			text: "BTC/USDT is trading at 50000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ClassifyStart(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ClassifyStart(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ClassifyStart(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyCompletion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"Analysis complete for BTC/USDT. FINAL VERDICT: UP", true},
		{"The analysis is complete.", true},
		{"I have completed the technical analysis", true},
		{"Here are the detailed results", true},
		{"Trade targets: 52000 / 54000", true},
		{"Starting analysis now", false},
		{"How complete is this?", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ClassifyCompletion(tt.text); got != tt.want {
			t.Errorf("ClassifyCompletion(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"look at BTC-USDT", "BTC/USDT", true},
		{"ETH_USDC looks strong", "ETH/USDC", true},
		{"BTCUSDT", "BTC/USDT", true},
		{"what about solana", "SOL/USDT", true},
		{"Ethereum is moving", "ETH/USDT", true},
		{"btc/usdt", "", false},
		{"USDT", "", false},
		{"nothing here", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractSymbol(tt.text)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractSymbol(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractTimeframe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"on the 15m chart", "15M", true},
		{"last 4 hours", "4H", true},
		{"1d candles", "1D", true},
		{"over 1 week", "1W", true},
		{"a 30-minute view", "30M", true},
		{"D1 close", "1D", true},
		{"W1 structure", "1W", true},
		{"weekly trend", "1W", true},
		{"hourly", "1H", true},
		{"no timeframe", "", false},
		{"on 0h", "", false},
		{"H0 close", "", false},
		{"the 01h chart", "1H", true},
		{"0h but daily", "1D", true},
	}

	for _, tt := range tests {
		got, ok := ExtractTimeframe(tt.text)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractTimeframe(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"FINAL VERDICT: UP", "UP", true},
		{"final verdict - **down**", "DOWN", true},
		{"Final Verdict:neutral", "NEUTRAL", true},
		{"no verdict yet", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractVerdict(tt.text)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractVerdict(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}
