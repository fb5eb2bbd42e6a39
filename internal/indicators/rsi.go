package indicators

// RSI is Wilder's relative strength index: averages seeded over the first
// period changes and smoothed over the rest. It needs period+1 values and
// returns zero before that.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		up, down := split(values[i] - values[i-1])
		gain += up
		loss += down
	}
	gain /= float64(period)
	loss /= float64(period)

	n := float64(period)
	for i := period + 1; i < len(values); i++ {
		up, down := split(values[i] - values[i-1])
		gain = (gain*(n-1) + up) / n
		loss = (loss*(n-1) + down) / n
	}

	if loss == 0 {
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

func split(change float64) (up, down float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}
