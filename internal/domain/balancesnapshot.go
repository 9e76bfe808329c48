package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// lamportsExp decimal exponent between lamports and SOL.
const lamportsExp = -9

// LamportsToSOL converts an exact lamport amount into SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), lamportsExp)
}

// BalanceSnapshot point-in-time balances of one wallet.
type BalanceSnapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	SOL       decimal.Decimal `json:"sol_balance"`
	WSOL      decimal.Decimal `json:"wsol_balance"`
	Total     decimal.Decimal `json:"total_balance"`
}

// NewBalanceSnapshot creates a snapshot, deriving the total from the parts.
func NewBalanceSnapshot(ts time.Time, sol, wsol decimal.Decimal, wsolInitialized bool) BalanceSnapshot {
	total := sol
	if wsolInitialized {
		total = sol.Add(wsol)
	}
	return BalanceSnapshot{
		Timestamp: ts,
		SOL:       sol,
		WSOL:      wsol,
		Total:     total,
	}
}

// HistoryRecord persisted shape of a BalanceSnapshot, shared by all wallets in one log.
type HistoryRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Address   string          `json:"address"`
	SOL       decimal.Decimal `json:"sol_balance"`
	WSOL      decimal.Decimal `json:"wsol_balance"`
	Total     decimal.Decimal `json:"total_balance"`
}

// NewHistoryRecord tags a snapshot with the wallet it belongs to.
func NewHistoryRecord(address string, s BalanceSnapshot) HistoryRecord {
	return HistoryRecord{
		Timestamp: s.Timestamp,
		Address:   address,
		SOL:       s.SOL,
		WSOL:      s.WSOL,
		Total:     s.Total,
	}
}

// Snapshot strips the wallet tag.
func (r HistoryRecord) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Timestamp: r.Timestamp,
		SOL:       r.SOL,
		WSOL:      r.WSOL,
		Total:     r.Total,
	}
}

// Summary read-only projection of a tracked wallet.
type Summary struct {
	Address         string            `json:"address"`
	Name            string            `json:"name"`
	SOL             decimal.Decimal   `json:"sol_balance"`
	WSOL            decimal.Decimal   `json:"wsol_balance"`
	Total           decimal.Decimal   `json:"total_balance"`
	WSOLInitialized bool              `json:"wsol_initialized"`
	LastUpdate      time.Time         `json:"last_update"`
	History         []BalanceSnapshot `json:"history_data"`
}

// LiveEntry state of one wallet captured for a broadcaster tick.
type LiveEntry struct {
	Summary Summary
	Latest  *BalanceSnapshot
}

// Balances result of an on-demand balance fetch.
type Balances struct {
	Lamports uint64
	WSOL     decimal.Decimal
	// WSOLErr is set when the token balance could not be read; WSOL is zero then.
	WSOLErr error
}
