package indicators

// SMA is the simple moving average of the last period values; zero until
// enough values exist.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA seeds with the SMA of the first period values and smooths the rest.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	k := 2 / float64(period+1)
	ema := SMA(values[:period], period)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}
