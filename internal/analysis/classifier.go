package analysis

import (
	"regexp"
	"strings"
)

// Classification is the result of looking at one transcript message.
type Classification int

const (
	// ClassNone means the message neither starts nor completes an analysis,
	// or it was skipped (local sender, already processed).
	ClassNone Classification = iota
	// ClassStart means the agent announced a new analysis.
	ClassStart
	// ClassCompletion means the agent reported analysis results.
	ClassCompletion
)

func (c Classification) String() string {
	switch c {
	case ClassStart:
		return "start"
	case ClassCompletion:
		return "completion"
	default:
		return "none"
	}
}

const (
	// PlaceholderSymbol is used when a start cue names no instrument.
	PlaceholderSymbol = "CRYPTO"
	// DefaultTimeframe is used when a start cue names no timeframe.
	DefaultTimeframe = "1H"
)

// StartCue is what ClassifyStart could extract from a start announcement.
// Symbol and Timeframe are always set; SymbolFound and TimeframeFound tell
// whether they came from the text or are defaults.
type StartCue struct {
	Symbol         string
	Timeframe      string
	SymbolFound    bool
	TimeframeFound bool
}

var startPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bstarting\b[^.!?\n]*\banaly(?:sis|ses|ze|zing)\b`),
	regexp.MustCompile(`(?i)\banaly(?:ze|zing|se|sing)\b[^.!?\n]*\b(?:now|process|timeframe)\b`),
	regexp.MustCompile(`(?i)\brunning (?:a|an|the|my) [^.!?\n]*\banalysis\b`),
	regexp.MustCompile(`(?i)\blet me (?:run|start|do|perform) (?:a|an|the) [^.!?\n]*\banalysis\b`),
	regexp.MustCompile(`(?i)\blet me analy(?:ze|se)\b`),
}

// checkingPattern only counts as a start cue when an instrument is named.
var checkingPattern = regexp.MustCompile(`(?i)\bchecking\b`)

var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\banalysis (?:is )?complete(?:d)?\b`),
	regexp.MustCompile(`(?i)\bcompleted (?:the|my|an|a) [^.!?\n]*\banalysis\b`),
	regexp.MustCompile(`(?i)\bfinal verdict\b`),
	regexp.MustCompile(`(?i)\bdetailed results\b`),
	regexp.MustCompile(`(?i)\btrade targets\s*:`),
}

// pairPattern matches BASE[sep]QUOTE on the original-case text.
var pairPattern = regexp.MustCompile(`\b([A-Z]{2,10})[/\-_]?(USDT|USDC|USD|BTC|ETH|EUR)\b`)

var coinNames = map[string]string{
	"bitcoin":  "BTC",
	"ethereum": "ETH",
	"ether":    "ETH",
	"solana":   "SOL",
	"ripple":   "XRP",
	"cardano":  "ADA",
	"dogecoin": "DOGE",
	"algorand": "ALGO",
	"litecoin": "LTC",
	"polkadot": "DOT",
}

var coinNamePattern = regexp.MustCompile(`(?i)\b(bitcoin|ethereum|ether|solana|ripple|cardano|dogecoin|algorand|litecoin|polkadot)\b`)

var (
	timeframePattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s?-?\s?(minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|wk|w)\b`)
	// H4, D1, W1 as used by the agent's tool contract.
	timeframePrefixPattern = regexp.MustCompile(`\b([HDW])(\d{1,2})\b`)
	namedTimeframePattern  = regexp.MustCompile(`(?i)\b(hourly|daily|weekly)\b`)
)

var namedTimeframes = map[string]string{
	"hourly": "1H",
	"daily":  "1D",
	"weekly": "1W",
}

var verdictPattern = regexp.MustCompile(`(?i)\bfinal verdict\s*[:\-]?\s*\**\s*(UP|DOWN|NEUTRAL)\b`)

// ClassifyStart reports whether text announces the start of an analysis.
// It is a heuristic over fixed phrase patterns and accepts false positives
// and negatives. On a match the best-effort symbol and timeframe are
// returned, falling back to PlaceholderSymbol and DefaultTimeframe.
func ClassifyStart(text string) (StartCue, bool) {
	symbol, symbolFound := ExtractSymbol(text)

	matched := false
	for _, p := range startPatterns {
		if p.MatchString(text) {
			matched = true
			break
		}
	}
	if !matched && symbolFound && checkingPattern.MatchString(text) {
		matched = true
	}
	if !matched {
		return StartCue{}, false
	}

	cue := StartCue{
		Symbol:      PlaceholderSymbol,
		Timeframe:   DefaultTimeframe,
		SymbolFound: symbolFound,
	}
	if symbolFound {
		cue.Symbol = symbol
	}
	if tf, ok := ExtractTimeframe(text); ok {
		cue.Timeframe = tf
		cue.TimeframeFound = true
	}
	return cue, true
}

// ClassifyCompletion reports whether text carries analysis results.
func ClassifyCompletion(text string) bool {
	for _, p := range completionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractSymbol finds an instrument in text, as "BASE/QUOTE".
func ExtractSymbol(text string) (string, bool) {
	if m := pairPattern.FindStringSubmatch(text); m != nil && m[1] != m[2] {
		return m[1] + "/" + m[2], true
	}
	if m := coinNamePattern.FindStringSubmatch(text); m != nil {
		return coinNames[strings.ToLower(m[1])] + "/USDT", true
	}
	return "", false
}

// ExtractTimeframe finds a candle timeframe in text and returns it in the
// canonical <n><unit> form (1H, 15M, 4H, 1D, 1W). A zero count is not a
// timeframe.
func ExtractTimeframe(text string) (string, bool) {
	if m := timeframePattern.FindStringSubmatch(text); m != nil {
		if n, ok := timeframeCount(m[1]); ok {
			return n + timeframeUnit(m[2]), true
		}
	}
	if m := timeframePrefixPattern.FindStringSubmatch(text); m != nil {
		if n, ok := timeframeCount(m[2]); ok {
			return n + m[1], true
		}
	}
	if m := namedTimeframePattern.FindStringSubmatch(text); m != nil {
		return namedTimeframes[strings.ToLower(m[1])], true
	}
	return "", false
}

func timeframeCount(raw string) (string, bool) {
	n := strings.TrimLeft(raw, "0")
	return n, n != ""
}

func timeframeUnit(raw string) string {
	switch strings.ToLower(raw)[0] {
	case 'm':
		return "M"
	case 'h':
		return "H"
	case 'd':
		return "D"
	default:
		return "W"
	}
}

// ExtractVerdict returns the direction stated after "FINAL VERDICT".
func ExtractVerdict(text string) (string, bool) {
	m := verdictPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}
