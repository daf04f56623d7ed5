package signal

import (
	"regexp"
	"strconv"
	"strings"
)

// The classifier is a fixed, ordered rule table. Order matters: break-even
// vocabulary overlaps with SL/TP substrings that also appear in create
// signals, so update rules are tested first and the first match wins.
//
// The prefilter gate is derived from this same table (plus the bare SL/TP
// shape) rather than being a second hand-maintained pattern set, so it can
// never drift out of sync and silently drop valid signals.

type ruleKind int

const (
	ruleBreakEven ruleKind = iota
	ruleClose
	ruleCreate
	// ruleGate patterns only widen the prefilter; they never classify on
	// their own.
	ruleGate
)

type rule struct {
	kind ruleKind
	re   *regexp.Regexp
}

var rules = []rule{
	{ruleBreakEven, regexp.MustCompile(`(?i)\b(?:BE|Break Even|Risk Free|Move SL at BE|Move stop loss at BE|Updated|Update full position|SL\s*[0-9]+\s*reduce risk|All SL \d+|[A-Za-z]{3,6}\s*SL\s*@\s*\d+)\b`)},
	{ruleClose, regexp.MustCompile(`(?i)\b(?:Close early|Close all|Close trade|Close)\b`)},
	// Multi-word directions come first in the alternation so "BUY" does not
	// shadow "BUY LIMIT".
	{ruleCreate, regexp.MustCompile(`(?i)\b([A-Za-z0-9]+)\s+(BUY LIMIT|BUY STOP|SELL LIMIT|SELL STOP|BUY|SELL)\s*@?\s*(\d+\.?\d*)`)},
	{ruleGate, regexp.MustCompile(`(?i)\bSL[-:]\s*[0-9.]+|TP[0-9]+[-:]\s*[0-9.]+`)},
}

var (
	stopLossRe   = regexp.MustCompile(`(?i)(?:SL|stoploss|sl)\s*-?\s*(\d+\.?\d*)`)
	takeProfitRe = regexp.MustCompile(`(?i)TP\d+\s*[-:]\s*(\d+\.?\d*)`)
	symbolToken  = regexp.MustCompile(`^[A-Z]{3,6}$`)
	numericToken = regexp.MustCompile(`\d`)
)

// Prefilter reports whether a message is worth classifying at all. It is a
// strict superset of what Classify accepts: any message that matches one of
// the classification rules, or a bare SL/TP shape, passes.
func Prefilter(text string) bool {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Classify turns a raw message text into a typed trade intent. It is a pure
// function over the rule table; unrecognized messages yield IntentInvalid.
func Classify(text string) Intent {
	for _, r := range rules {
		switch r.kind {
		case ruleBreakEven:
			if m := r.re.FindString(text); m != "" {
				return classifyBreakEven(m)
			}
		case ruleClose:
			if r.re.MatchString(text) {
				return Intent{Kind: IntentClose}
			}
		case ruleCreate:
			if m := r.re.FindStringSubmatch(text); m != nil {
				return classifyCreate(text, m)
			}
		}
	}
	return Intent{Kind: IntentInvalid}
}

// classifyBreakEven extracts the optional symbol and stop loss from the
// matched break-even span. The symbol, when present, is the leading token of
// the span; the stop loss is the first numeric token, else absent.
func classifyBreakEven(span string) Intent {
	intent := Intent{Kind: IntentUpdateBreakEven}

	parts := strings.Fields(span)
	if len(parts) == 0 {
		return intent
	}
	if symbolToken.MatchString(parts[0]) {
		intent.Symbol = strings.ToUpper(parts[0])
	}
	for _, part := range parts {
		if !numericToken.MatchString(part) {
			continue
		}
		if v, err := strconv.ParseFloat(part, 64); err == nil && v != 0 {
			intent.StopLoss = &v
		}
		break
	}
	return intent
}

func classifyCreate(text string, m []string) Intent {
	entry, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Intent{Kind: IntentInvalid}
	}

	intent := Intent{
		Kind:       IntentCreate,
		Symbol:     strings.ToUpper(m[1]),
		Direction:  strings.ToUpper(m[2]),
		EntryPrice: entry,
	}

	if slm := stopLossRe.FindStringSubmatch(text); slm != nil {
		if v, err := strconv.ParseFloat(slm[1], 64); err == nil && v != 0 {
			intent.StopLoss = &v
		}
	}

	// Take profits are collected in order of appearance; the TP<n> labels are
	// not used for ordering or deduplication.
	for _, tpm := range takeProfitRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(tpm[1], 64); err == nil {
			intent.TakeProfits = append(intent.TakeProfits, v)
		}
	}

	if intent.Symbol == "" && intent.Direction == "" && intent.EntryPrice == 0 &&
		intent.StopLoss == nil && len(intent.TakeProfits) == 0 {
		return Intent{Kind: IntentInvalid}
	}

	return intent
}
