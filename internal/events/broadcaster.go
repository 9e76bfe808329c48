// Package events produces the live update feed served to connected clients.
package events

import (
	"context"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultInterval tick between two captures.
const DefaultInterval = time.Second

// Capturer provides a consistent view of every tracked wallet.
type Capturer interface {
	Capture() []domain.LiveEntry
}

// Broadcaster runs one diff loop per live client.
type Broadcaster struct {
	source   Capturer
	interval time.Duration
	epsilon  decimal.Decimal
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(source Capturer, interval time.Duration, epsilon decimal.Decimal) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{source: source, interval: interval, epsilon: epsilon}
}

// Run sends a batch right away and then on every tick with changes. It returns when ctx is
// done or send fails; other clients are unaffected.
func (b *Broadcaster) Run(ctx context.Context, send func(BatchUpdate) error) error {
	differ := NewDiffer(b.epsilon)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if batch, ok := differ.Diff(b.source.Capture()); ok {
			if err := send(batch); err != nil {
				return errors.Wrap(err, "send batch")
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
