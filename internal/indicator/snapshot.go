package indicator

// Value is one indicator reading. An indicator whose required period exceeds
// the series length is undefined (Valid=false), which is a distinct state
// from any numeric value: "no data" must never be scored as "condition
// false".
type Value struct {
	V     float64
	Valid bool
}

func value(v float64) Value { return Value{V: v, Valid: true} }

// Snapshot is the full indicator reading for one symbol in one cycle. It is
// built once from the fetched series and never mutated afterwards.
type Snapshot struct {
	Symbol string
	Price  float64 // close of the most recent bar

	TrendSMA Value // long-horizon regime moving average
	FastSMA  Value // short-horizon entry-zone moving average
	RSI      Value // bounded momentum oscillator, 0-100
	ADX      Value // trend strength from directional movement and true range
	PlusDI   Value
	MinusDI  Value
	ATR      Value

	Supertrend        Value // volatility-adaptive trailing stop line
	SupertrendDir     Value // +1 price above the line, -1 below
	SupertrendFlipped bool  // the direction changed on the latest bar

	VolumeRatio Value // latest volume over the rolling baseline
}
