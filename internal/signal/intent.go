package signal

// IntentKind discriminates the variants of a classified signal.
type IntentKind int

const (
	// IntentInvalid means the message could not be classified as trade-related.
	IntentInvalid IntentKind = iota
	// IntentCreate opens a new position.
	IntentCreate
	// IntentUpdateBreakEven moves the stop loss of open positions, usually to entry.
	IntentUpdateBreakEven
	// IntentClose closes open positions.
	IntentClose
)

func (k IntentKind) String() string {
	switch k {
	case IntentCreate:
		return "create"
	case IntentUpdateBreakEven:
		return "update"
	case IntentClose:
		return "close"
	default:
		return "invalid"
	}
}

// Intent is the typed result of classifying one chat message.
// Only the fields relevant to the Kind are populated.
type Intent struct {
	Kind        IntentKind
	Symbol      string // logical signal symbol, upper-cased; may be empty for updates
	Direction   string
	EntryPrice  float64
	StopLoss    *float64 // nil when the message carried no usable stop loss
	TakeProfits []float64
}
