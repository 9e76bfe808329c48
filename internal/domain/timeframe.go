package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Interval chart window token.
type Interval string

const (
	Interval5M  Interval = "5M"
	Interval10M Interval = "10M"
	Interval30M Interval = "30M"
	Interval1H  Interval = "1H"
	Interval2H  Interval = "2H"
	Interval4H  Interval = "4H"
	Interval8H  Interval = "8H"
	Interval12H Interval = "12H"
	Interval1D  Interval = "1D"
	Interval1W  Interval = "1W"
	IntervalAll Interval = "ALL"
)

var intervalWindows = map[Interval]time.Duration{
	Interval5M:  5 * time.Minute,
	Interval10M: 10 * time.Minute,
	Interval30M: 30 * time.Minute,
	Interval1H:  time.Hour,
	Interval2H:  2 * time.Hour,
	Interval4H:  4 * time.Hour,
	Interval8H:  8 * time.Hour,
	Interval12H: 12 * time.Hour,
	Interval1D:  24 * time.Hour,
	Interval1W:  7 * 24 * time.Hour,
	IntervalAll: 0,
}

// ParseInterval parses a window token, empty means ALL.
func ParseInterval(s string) (Interval, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return IntervalAll, nil
	}
	if _, ok := intervalWindows[Interval(s)]; !ok {
		return "", NewValidationError("interval", "unknown window "+s)
	}
	return Interval(s), nil
}

// Window returns the lookback duration, zero for ALL.
func (i Interval) Window() time.Duration {
	return intervalWindows[i]
}

// Metric selects which balance a chart plots.
type Metric string

const (
	MetricSOL   Metric = "sol"
	MetricWSOL  Metric = "wsol"
	MetricTotal Metric = "total"
)

// ParseMetric parses a metric token, empty means total.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "total":
		return MetricTotal, nil
	case "sol", "primary":
		return MetricSOL, nil
	case "wsol", "secondary":
		return MetricWSOL, nil
	default:
		return "", NewValidationError("data_type", "unknown metric "+s)
	}
}

// Value extracts the selected metric from a snapshot.
func (m Metric) Value(s BalanceSnapshot) decimal.Decimal {
	switch m {
	case MetricSOL:
		return s.SOL
	case MetricWSOL:
		return s.WSOL
	default:
		return s.Total
	}
}

// ChartPoint one resampled chart value.
type ChartPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}
