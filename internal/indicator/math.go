package indicator

import (
	"math"

	"confluence-trade-bot-go/internal/models"
)

// sma averages the last period values. ok is false when the slice is too
// short.
func sma(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// wilderRSI is the classic 0-100 oscillator with Wilder smoothing of average
// gains and losses.
func wilderRSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// trueRange of bar i given its predecessor.
func trueRange(cur, prev models.Candle) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// atrSeries returns the Wilder-smoothed average true range aligned to the
// candle index. Entries before index period are zero and not meaningful.
func atrSeries(candles []models.Candle, period int) ([]float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return nil, false
	}

	atr := make([]float64, len(candles))
	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	atr[period] = sum / float64(period)

	p := float64(period)
	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1])
		atr[i] = (atr[i-1]*(p-1) + tr) / p
	}
	return atr, true
}

// adx computes trend strength from smoothed directional movement over true
// range. This is the real Wilder construction, not a moving-average-slope
// proxy: a slope proxy labels choppy markets as trending, which is exactly
// what the strength gate exists to prevent.
func adx(candles []models.Candle, period int) (adxV, plusDI, minusDI float64, ok bool) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, 0, 0, false
	}

	var smTR, smPlusDM, smMinusDM float64
	var dxSum float64
	dxCount := 0
	var adxVal float64
	adxReady := false

	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		tr := trueRange(cur, prev)

		if i <= period {
			smTR += tr
			smPlusDM += plusDM
			smMinusDM += minusDM
			if i < period {
				continue
			}
		} else {
			smTR = smTR - smTR/float64(period) + tr
			smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
			smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM
		}

		if smTR == 0 {
			continue
		}
		pDI := 100 * smPlusDM / smTR
		mDI := 100 * smMinusDM / smTR
		plusDI, minusDI = pDI, mDI

		diSum := pDI + mDI
		if diSum == 0 {
			continue
		}
		dx := 100 * math.Abs(pDI-mDI) / diSum

		if !adxReady {
			dxSum += dx
			dxCount++
			if dxCount == period {
				adxVal = dxSum / float64(period)
				adxReady = true
			}
		} else {
			adxVal = (adxVal*float64(period-1) + dx) / float64(period)
		}
	}

	if !adxReady {
		return 0, 0, 0, false
	}
	return adxVal, plusDI, minusDI, true
}

// supertrend computes the ATR-based flip series: a trailing stop line below
// price in an uptrend and above it in a downtrend, flipping direction when
// the close crosses the line.
func supertrend(candles []models.Candle, period int, mult float64) (line, dir float64, flipped, ok bool) {
	atr, atrOK := atrSeries(candles, period)
	if !atrOK || len(candles) < period+2 {
		return 0, 0, false, false
	}

	var finalUpper, finalLower float64
	var prevDir float64
	first := true

	for i := period; i < len(candles); i++ {
		mid := (candles[i].High + candles[i].Low) / 2
		basicUpper := mid + mult*atr[i]
		basicLower := mid - mult*atr[i]

		if first {
			finalUpper = basicUpper
			finalLower = basicLower
			if candles[i].Close >= mid {
				dir = 1
			} else {
				dir = -1
			}
			prevDir = dir
			first = false
			continue
		}

		prevClose := candles[i-1].Close
		if basicUpper < finalUpper || prevClose > finalUpper {
			finalUpper = basicUpper
		}
		if basicLower > finalLower || prevClose < finalLower {
			finalLower = basicLower
		}

		prevDir = dir
		switch {
		case candles[i].Close > finalUpper:
			dir = 1
		case candles[i].Close < finalLower:
			dir = -1
		}

		if dir > 0 {
			line = finalLower
		} else {
			line = finalUpper
		}
	}

	return line, dir, dir != prevDir, true
}

// volumeRatio relates the latest bar's volume to the rolling baseline of the
// preceding period bars. A ratio, not a binary check: callers decide the
// confirmation threshold.
func volumeRatio(volumes []float64, period int) (float64, bool) {
	if period <= 0 || len(volumes) < period+1 {
		return 0, false
	}
	baselineWindow := volumes[len(volumes)-period-1 : len(volumes)-1]
	var sum float64
	for _, v := range baselineWindow {
		sum += v
	}
	baseline := sum / float64(period)
	if baseline == 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / baseline, true
}
