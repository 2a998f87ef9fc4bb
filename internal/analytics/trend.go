package analytics

import (
	"github.com/rajasatyajit/FuelWatch/internal/models"
	"github.com/shopspring/decimal"
)

const (
	// minTrendSamples is the smallest window a trend is computed for
	minTrendSamples = 4
	// trendFloor is the smallest absolute delta treated as a move
	trendFloor = 0.002
	// trendRatio scales the threshold with the first half's mean
	trendRatio    = 0.005
	averagePlaces = 3
)

// Analyze computes the statistics of a trailing window against the current
// price. A nil current price yields a zero result with a stable trend.
func Analyze(current *models.Price, window []models.PricePoint) models.Analysis {
	if current == nil {
		return models.Analysis{Trend: models.TrendStable}
	}

	a := models.Analysis{
		StationID:    current.StationID,
		FuelType:     current.FuelType,
		CurrentPrice: current.Price,
		Samples:      len(window),
	}
	if len(window) == 0 {
		a.Average = current.Price
		a.Min = current.Price
		a.Max = current.Price
		a.Percentile = 50
		a.Trend = models.TrendStable
		return a
	}

	values := make([]float64, len(window))
	a.Min, a.Max = window[0].Price, window[0].Price
	atOrBelow := 0
	for i, pt := range window {
		values[i] = pt.Price
		if pt.Price < a.Min {
			a.Min = pt.Price
		}
		if pt.Price > a.Max {
			a.Max = pt.Price
		}
		if pt.Price <= current.Price {
			atOrBelow++
		}
	}

	a.Average = mean(values).Round(averagePlaces).InexactFloat64()
	a.Percentile = 100 * atOrBelow / len(values)
	a.Trend = Classify(values)
	return a
}

// Classify compares the mean of the later half of values with the earlier
// half. Fewer than four values are always stable.
func Classify(values []float64) models.Trend {
	if len(values) < minTrendSamples {
		return models.TrendStable
	}

	mid := len(values) / 2
	first := mean(values[:mid])
	delta := mean(values[mid:]).Sub(first)

	threshold := decimal.Max(decimal.NewFromFloat(trendFloor), first.Mul(decimal.NewFromFloat(trendRatio)))
	switch {
	case delta.GreaterThan(threshold):
		return models.TrendIncreasing
	case delta.LessThan(threshold.Neg()):
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func mean(values []float64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
