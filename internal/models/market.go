package models

import "time"

// Candle is a single OHLCV bar.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// CandleSeries is an ordered sequence of OHLCV bars for one symbol and
// timeframe, most-recent bar last. A series is immutable once built: it is
// owned by the cycle that fetched it and discarded after indicator
// computation.
type CandleSeries struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Candles   []Candle `json:"candles"`
}

// Len returns the number of bars in the series.
func (s *CandleSeries) Len() int { return len(s.Candles) }

// Last returns the most recent bar. The series must not be empty.
func (s *CandleSeries) Last() Candle { return s.Candles[len(s.Candles)-1] }

// LastClose returns the close of the most recent bar, or 0 for an empty series.
func (s *CandleSeries) LastClose() float64 {
	if len(s.Candles) == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

// Closes returns the close prices in bar order.
func (s *CandleSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Volumes returns the volumes in bar order.
func (s *CandleSeries) Volumes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Volume
	}
	return out
}

// TimeframeDuration maps a timeframe string ("1m", "5m", "1h", "4h", "1d")
// to its bar duration. Returns 0 for an unknown timeframe.
func TimeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return 0
}
