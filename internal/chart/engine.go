// Package chart answers time-windowed chart queries over in-memory wallet history.
package chart

import (
	"math"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/pkg/timeseries"
)

// DefaultPoints upper bound of points returned by one query.
const DefaultPoints = 1000

type historyReader interface {
	History(address string) ([]domain.BalanceSnapshot, error)
}

// Engine resamples wallet history into chart series.
type Engine struct {
	store  historyReader
	points int
	now    func() time.Time
}

// NewEngine creates an Engine returning at most points values per query.
func NewEngine(store historyReader, points int) *Engine {
	if points <= 0 {
		points = DefaultPoints
	}
	return &Engine{store: store, points: points, now: time.Now}
}

// Chart returns the metric of a wallet within the interval, ascending in time.
// Untracked wallets fail with domain.ErrNotFound.
func (e *Engine) Chart(address string, metric domain.Metric, interval domain.Interval) ([]domain.ChartPoint, error) {
	history, err := e.store.History(address)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if window := interval.Window(); window > 0 {
		since = e.now().Add(-window)
	}

	points := make([]timeseries.Point[float64], 0, len(history))
	for _, h := range history {
		if !since.IsZero() && h.Timestamp.Before(since) {
			continue
		}
		value := metric.Value(h).InexactFloat64()
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		points = append(points, timeseries.Point[float64]{Time: h.Timestamp.Unix(), Value: value})
	}

	sampled := timeseries.Resample(points, e.points)
	out := make([]domain.ChartPoint, len(sampled))
	for i, p := range sampled {
		out[i] = domain.ChartPoint{Time: p.Time, Value: p.Value}
	}
	return out, nil
}
