package analysis

import (
	"testing"

	"github.com/ashureev/cryptomind-desk/internal/clock"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

func TestResolveStartedAlwaysCreates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(clock.Fake(epoch))
	id := reg.Create(Seed{Symbol: "BTC/USDT", Status: domain.StatusActive})

	got := Resolve(Started("BTC/USDT", "1H"), reg, id)
	if got.Action != ActionCreate || got.Rule != RuleStarted {
		t.Errorf("Resolve(started) = %+v, want create", got)
	}
}

func TestResolveEmptyRegistryDrops(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(clock.Fake(epoch))
	got := Resolve(Data("BTC/USDT", domain.Snapshot{"price": "1"}), reg, "")
	if got.Action != ActionDrop || got.Rule != RuleEmptyRegistry {
		t.Errorf("Resolve() = %+v, want drop", got)
	}
}

func TestResolveData(t *testing.T) {
	t.Parallel()

	type setup struct {
		reg    *Registry
		ids    map[string]string
		active string
	}

	tests := []struct {
		name     string
		build    func() setup
		symbol   string
		wantID   string
		wantRule Rule
	}{
		{
			name: "symbol match beats active pointer",
			build: func() setup {
				reg := NewRegistry(clock.Fake(epoch))
				btc := reg.Create(Seed{Symbol: "BTC/USDT", Status: domain.StatusActive})
				eth := reg.Create(Seed{Symbol: "ETH/USD", Status: domain.StatusActive})
				return setup{reg, map[string]string{"btc": btc, "eth": eth}, eth}
			},
			symbol:   "btc-usdt",
			wantID:   "btc",
			wantRule: RuleSymbolMatch,
		},
		{
			name: "newest in-flight match wins",
			build: func() setup {
				reg := NewRegistry(clock.Fake(epoch))
				old := reg.Create(Seed{Symbol: "BTC/USDT", Status: domain.StatusActive})
				pending := reg.Create(Seed{Symbol: "BTCUSDT"})
				return setup{reg, map[string]string{"old": old, "new": pending}, old}
			},
			symbol:   "BTC/USDT",
			wantID:   "new",
			wantRule: RuleSymbolMatch,
		},
		{
			name: "terminal sessions never match by symbol",
			build: func() setup {
				reg := NewRegistry(clock.Fake(epoch))
				btc := reg.Create(Seed{Symbol: "BTC/USDT", Status: domain.StatusComplete})
				eth := reg.Create(Seed{Symbol: "ETH/USD", Status: domain.StatusActive})
				return setup{reg, map[string]string{"btc": btc, "eth": eth}, eth}
			},
			symbol:   "BTC/USDT",
			wantID:   "eth",
			wantRule: RuleActiveSession,
		},
		{
			name: "no symbol binds to active session",
			build: func() setup {
				reg := NewRegistry(clock.Fake(epoch))
				a := reg.Create(Seed{Symbol: "CRYPTO", Status: domain.StatusActive})
				b := reg.Create(Seed{Symbol: "SOL/USDT", Status: domain.StatusComplete})
				return setup{reg, map[string]string{"a": a, "b": b}, a}
			},
			wantID:   "a",
			wantRule: RuleActiveSession,
		},
		{
			name: "falls back to the one completed session",
			build: func() setup {
				reg := NewRegistry(clock.Fake(epoch))
				done := reg.Create(Seed{Symbol: "BTC/USDT", Status: domain.StatusComplete})
				return setup{reg, map[string]string{"done": done}, ""}
			},
			symbol:   "BTC/USDT",
			wantID:   "done",
			wantRule: RuleMostRecent,
		},
		{
			name: "stale active pointer falls back to newest",
			build: func() setup {
				reg := NewRegistry(clock.Fake(epoch))
				a := reg.Create(Seed{Symbol: "A/USDT", Status: domain.StatusExpired})
				b := reg.Create(Seed{Symbol: "B/USDT", Status: domain.StatusExpired})
				return setup{reg, map[string]string{"a": a, "b": b}, "gone"}
			},
			wantID:   "b",
			wantRule: RuleMostRecent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := tt.build()
			got := Resolve(Data(tt.symbol, domain.Snapshot{"k": "v"}), s.reg, s.active)
			if got.Action != ActionBind {
				t.Fatalf("Action = %s, want bind", got.Action)
			}
			if want := s.ids[tt.wantID]; got.SessionID != want {
				t.Errorf("SessionID = %s, want %s (%s)", got.SessionID, want, tt.wantID)
			}
			if got.Rule != tt.wantRule {
				t.Errorf("Rule = %s, want %s", got.Rule, tt.wantRule)
			}
		})
	}
}
