package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCreate(t *testing.T) {
	testCases := []struct {
		name        string
		text        string
		symbol      string
		direction   string
		entryPrice  float64
		stopLoss    float64 // 0 means absent
		takeProfits []float64
	}{
		{
			name:        "Full signal with SL and two TPs",
			text:        "XAUUSD BUY @ 2400 SL 2390 TP1-2410 TP2-2420",
			symbol:      "XAUUSD",
			direction:   "BUY",
			entryPrice:  2400,
			stopLoss:    2390,
			takeProfits: []float64{2410, 2420},
		},
		{
			name:       "Lowercase input is normalized",
			text:       "xauusd sell @ 2400.50",
			symbol:     "XAUUSD",
			direction:  "SELL",
			entryPrice: 2400.50,
		},
		{
			name:       "Multi-word direction is not shadowed by single word",
			text:       "US30 SELL LIMIT 44250",
			symbol:     "US30",
			direction:  "SELL LIMIT",
			entryPrice: 44250,
		},
		{
			name:       "Buy stop without at sign",
			text:       "EURUSD BUY STOP 1.0850 SL- 1.0800",
			symbol:     "EURUSD",
			direction:  "BUY STOP",
			entryPrice: 1.0850,
			stopLoss:   1.0800,
		},
		{
			name:        "TPs collected in order of appearance, not by label",
			text:        "US30 SELL @ 44000 TP3: 43900 TP1: 43950 TP2: 43850",
			symbol:      "US30",
			direction:   "SELL",
			entryPrice:  44000,
			takeProfits: []float64{43900, 43950, 43850},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			intent := Classify(tc.text)

			require.Equal(t, IntentCreate, intent.Kind)
			assert.Equal(t, tc.symbol, intent.Symbol)
			assert.Equal(t, tc.direction, intent.Direction)
			assert.Equal(t, tc.entryPrice, intent.EntryPrice)
			if tc.stopLoss == 0 {
				assert.Nil(t, intent.StopLoss)
			} else {
				require.NotNil(t, intent.StopLoss)
				assert.Equal(t, tc.stopLoss, *intent.StopLoss)
			}
			assert.Equal(t, tc.takeProfits, intent.TakeProfits)
		})
	}
}

func TestClassifyBreakEven(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		symbol   string
		stopLoss float64 // 0 means absent
	}{
		{name: "Move SL at BE", text: "Move SL at BE US30"},
		{name: "Bare BE keyword", text: "BE 🙌"},
		{name: "Risk free", text: "Risk Free now guys"},
		{name: "Updated", text: "Updated"},
		{name: "Update full position", text: "Update full position"},
		{name: "All SL with value", text: "All SL 2400", stopLoss: 2400},
		{name: "Symbol SL at value", text: "XAUUSD SL @ 2415", symbol: "XAUUSD", stopLoss: 2415},
		{name: "Reduce risk", text: "SL 44100 reduce risk", stopLoss: 44100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			intent := Classify(tc.text)

			require.Equal(t, IntentUpdateBreakEven, intent.Kind)
			assert.Equal(t, tc.symbol, intent.Symbol)
			if tc.stopLoss == 0 {
				assert.Nil(t, intent.StopLoss)
			} else {
				require.NotNil(t, intent.StopLoss)
				assert.Equal(t, tc.stopLoss, *intent.StopLoss)
			}
		})
	}
}

func TestClassifyBreakEvenWinsOverCreate(t *testing.T) {
	// Update vocabulary is tested before the create shape, so a message
	// restating the original signal next to an update keyword is an update.
	intent := Classify("Updated: XAUUSD BUY @ 2400 SL 2390 TP1-2410")

	assert.Equal(t, IntentUpdateBreakEven, intent.Kind)
}

func TestClassifyClose(t *testing.T) {
	for _, text := range []string{
		"Close early",
		"Close all",
		"Close trade here",
		"Please close",
	} {
		t.Run(text, func(t *testing.T) {
			intent := Classify(text)
			assert.Equal(t, IntentClose, intent.Kind)
		})
	}
}

func TestClassifyInvalid(t *testing.T) {
	for _, text := range []string{
		"Good morning traders!",
		"GOLD looking bullish today",
		"",
	} {
		t.Run(text, func(t *testing.T) {
			intent := Classify(text)
			assert.Equal(t, IntentInvalid, intent.Kind)
		})
	}
}

func TestPrefilter(t *testing.T) {
	t.Run("PassesEverythingClassifyAccepts", func(t *testing.T) {
		// The gate must stay a strict superset of classification or valid
		// signals get silently dropped.
		for _, text := range []string{
			"XAUUSD BUY @ 2400 SL 2390 TP1-2410",
			"Move SL at BE",
			"All SL 2400",
			"Close all",
			"Please close",
		} {
			assert.True(t, Prefilter(text), "prefilter dropped %q", text)
		}
	})

	t.Run("PassesBareSLTPShapes", func(t *testing.T) {
		// Bare SL/TP lines pass the gate even though classification will
		// reject them; the gate only filters noise, it does not classify.
		assert.True(t, Prefilter("TP1- 2410"))
		assert.True(t, Prefilter("SL- 2390"))
		assert.Equal(t, IntentInvalid, Classify("TP1- 2410").Kind)
	})

	t.Run("DropsNoise", func(t *testing.T) {
		assert.False(t, Prefilter("Good morning traders!"))
		assert.False(t, Prefilter("What a week for gold"))
	})
}
