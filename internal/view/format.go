package view

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Data keys the panel knows how to format.
var (
	priceKeys   = []string{"price", "last_price", "close", "entry", "stop_loss", "take_profit"}
	percentKeys = []string{"change", "change_24h", "change_pct", "confidence"}
)

// parseDecimal reads numbers in the shapes the agent emits them: JSON
// numbers, numeric strings, "$50,000.5", "+2.4%".
func parseDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "$")
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimPrefix(s, "+")
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// FormatPrice renders a price with thousands separators. Prices under 1
// keep more precision.
func FormatPrice(v any) (string, bool) {
	d, ok := parseDecimal(v)
	if !ok {
		return "", false
	}
	places := int32(2)
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		places = 6
	}
	return "$" + groupThousands(d.StringFixed(places)), true
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(v any) (string, bool) {
	d, ok := parseDecimal(v)
	if !ok {
		return "", false
	}
	s := d.StringFixed(2) + "%"
	if d.IsPositive() {
		s = "+" + s
	}
	return s, true
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}
