package view

import (
	"strings"
	"testing"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{"$50000", "$50,000.00", true},
		{50000.5, "$50,000.50", true},
		{"1,234,567.891", "$1,234,567.89", true},
		{"0.00012345", "$0.000123", true},
		{"-1200", "$-1,200.00", true},
		{"n/a", "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := FormatPrice(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FormatPrice(%v) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{"+2.456%", "+2.46%"},
		{-0.5, "-0.50%"},
		{"0", "0.00%"},
	}
	for _, tt := range tests {
		if got, _ := FormatPercent(tt.in); got != tt.want {
			t.Errorf("FormatPercent(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderPanel(t *testing.T) {
	t.Parallel()

	created := time.Unix(1_700_000_000, 0)
	finished := created.Add(42 * time.Second)
	sessions := []*domain.AnalysisSession{
		{ID: "aaaaaaaa-1", Seq: 1, Symbol: "BTC/USDT", Timeframe: "1H", Status: domain.StatusComplete,
			Data: domain.Snapshot{"price": "$50000", "verdict": "UP"}, CreatedAt: created, FinishedAt: &finished},
		{ID: "bbbbbbbb-2", Seq: 2, Symbol: "ETH/USD", Timeframe: "4H", Status: domain.StatusActive, CreatedAt: created},
	}

	out := RenderPanel(sessions, Options{ActiveID: "bbbbbbbb-2", Now: created.Add(10 * time.Second)})
	for _, want := range []string{"Analyses (2)", "BTC/USDT", "$50,000.00", "UP", "took 42s", "ETH/USD", "running 10s", "(active)"} {
		if !strings.Contains(out, want) {
			t.Errorf("panel missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "ETH/USD") > strings.Index(out, "BTC/USDT") {
		t.Error("newest session not rendered first")
	}

	limited := RenderPanel(sessions, Options{Limit: 1, Now: created})
	if strings.Contains(limited, "BTC/USDT") {
		t.Error("Limit kept the older session")
	}
}

func TestRenderPanelEmpty(t *testing.T) {
	t.Parallel()

	if out := RenderPanel(nil, Options{}); !strings.Contains(out, "no analyses yet") {
		t.Errorf("empty panel = %q", out)
	}
}
