package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/mioxtw/sol-wallet-monitor/pkg/retrier"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultReconnectDelay pause before a hard restart.
const DefaultReconnectDelay = 10 * time.Second

// State position of the Loop state machine.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

var (
	errResubscribe  = errors.New("wallet set changed")
	errStreamClosed = errors.New("stream closed by transport")
)

// WalletLister source of the tracked wallet set.
type WalletLister interface {
	Addresses() []string
}

// Loop keeps one subscription alive for the process lifetime.
//
// A resubscribe request replaces the subscription on the same connection. Any transport
// failure drops the connection and reconnects after a fixed delay, forever.
type Loop struct {
	transport Transport
	wallets   WalletLister
	applier   *Applier
	source    string
	retrier   *retrier.Retrier
	control   chan struct{}
	state     atomic.Int32
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewLoop creates a Loop. source labels metrics and logs.
func NewLoop(transport Transport, wallets WalletLister, applier *Applier, source string, reconnectDelay time.Duration,
	logger *zap.Logger, m *metrics.Collector) *Loop {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	l := &Loop{
		transport: transport,
		wallets:   wallets,
		applier:   applier,
		source:    source,
		control:   make(chan struct{}, 1),
		logger:    logger,
		metrics:   m,
	}
	l.retrier = retrier.New(
		retrier.WithMaxRetries(retrier.Unlimited),
		retrier.WithFixedInterval(reconnectDelay),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.metrics.Reconnect()
			l.logger.Warn("ingestion stream failed, reconnecting",
				zap.Error(err), zap.Int("attempt", attempt), zap.Duration("in", wait))
		}),
	)
	return l
}

// Resubscribe asks the loop to resend a fresh filter. Requests coalesce.
func (l *Loop) Resubscribe() {
	select {
	case l.control <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	l.metrics.SetIngestState(int(s))
	l.logger.Info("ingestion state", zap.Stringer("state", s))
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	return l.retrier.Do(ctx, func(ctx context.Context) error {
		err := l.session(ctx)
		l.setState(Disconnected)
		return err
	})
}

// session runs one connection. It only returns with an error.
func (l *Loop) session(ctx context.Context) error {
	l.setState(Connecting)
	if err := l.transport.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect")
	}
	defer func() {
		if err := l.transport.Close(); err != nil {
			l.logger.Warn("close transport", zap.Error(err))
		}
	}()

	for {
		l.setState(Connecting)
		filter := BuildFilter(l.wallets.Addresses(), l.logger)
		stream, err := l.transport.Subscribe(ctx, filter)
		if err != nil {
			return errors.Wrap(err, "subscribe")
		}
		l.setState(Subscribed)
		l.logger.Info("subscribed",
			zap.Int("wallets", len(filter.Wallets)),
			zap.Int("wsol_accounts", len(filter.WSOLAccounts)))

		err = l.consume(ctx, stream, filter)
		stream.Close()
		if !errors.Is(err, errResubscribe) {
			return err
		}
		l.logger.Info("wallet set changed, resubscribing")
	}
}

func (l *Loop) consume(ctx context.Context, stream Stream, filter FilterSpec) error {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.control:
			return errResubscribe
		case ev, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return errors.Wrap(err, "stream")
				}
				return errStreamClosed
			}
			l.setState(Streaming)
			l.handle(ctx, ev, filter)
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev Event, filter FilterSpec) {
	updates, err := Demux(ev, filter)
	if err != nil {
		l.metrics.Event(l.source, "dropped")
		l.logger.Warn("drop undecodable event", zap.Error(err))
		return
	}
	for _, u := range updates {
		if err := l.applier.Apply(ctx, u, l.source); err != nil {
			l.logger.Error("apply update", zap.String("address", u.Address), zap.Error(err))
		}
	}
}
