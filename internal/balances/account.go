package balances

import (
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
)

type account struct {
	address         string
	name            string
	lamports        uint64
	wsol            decimal.Decimal
	wsolInitialized bool
	lastUpdate      time.Time
	history         []domain.BalanceSnapshot
}

func (a *account) sol() decimal.Decimal {
	return domain.LamportsToSOL(a.lamports)
}

func (a *account) current() domain.BalanceSnapshot {
	return domain.NewBalanceSnapshot(a.lastUpdate, a.sol(), a.wsol, a.wsolInitialized)
}

// appendCurrent records the current balances and evicts the oldest points beyond limit.
func (a *account) appendCurrent(limit int) {
	a.history = append(a.history, a.current())
	if limit > 0 && len(a.history) > limit {
		a.history = a.history[len(a.history)-limit:]
	}
}

func (a *account) latest() *domain.BalanceSnapshot {
	if len(a.history) == 0 {
		return nil
	}
	last := a.history[len(a.history)-1]
	return &last
}
