package analysis

import "strings"

// NormalizeSymbol reduces a free-form instrument identifier to the key used
// for every symbol comparison: lower-case, with everything except ASCII
// letters and digits removed. "BTC/USDT", "btc-usdt" and "BtcUsdt" all map
// to "btcusdt".
func NormalizeSymbol(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameSymbol reports whether a and b name the same instrument. Symbols that
// normalize to the empty string never match anything.
func SameSymbol(a, b string) bool {
	ka := NormalizeSymbol(a)
	return ka != "" && ka == NormalizeSymbol(b)
}
