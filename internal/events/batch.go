package events

import (
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	TypeBatchUpdate = "batch_update"
	TypeUpdate      = "update"
	TypeDelete      = "delete"
)

// BatchUpdate one live message carrying every change since the previous tick.
// Amounts are decimal strings so the UI never sees float rounding.
type BatchUpdate struct {
	Type    string        `json:"type"`
	Updates []UpdateEntry `json:"updates"`
}

// UpdateEntry either a changed wallet or the address of a removed one.
type UpdateEntry struct {
	Type    string         `json:"type"`
	Wallet  *WalletPayload `json:"wallet,omitempty"`
	Address string         `json:"address,omitempty"`
}

// WalletPayload current state of a changed wallet.
type WalletPayload struct {
	Address    string          `json:"address"`
	Name       string          `json:"name"`
	SOL        decimal.Decimal `json:"sol_balance"`
	WSOL       decimal.Decimal `json:"wsol_balance"`
	Total      decimal.Decimal `json:"total_balance"`
	LastUpdate time.Time       `json:"last_update"`
	Latest     *LatestData     `json:"latest_data,omitempty"`
}

// LatestData most recent history point of a wallet.
type LatestData struct {
	Time  int64           `json:"time"`
	SOL   decimal.Decimal `json:"sol_balance"`
	WSOL  decimal.Decimal `json:"wsol_balance"`
	Total decimal.Decimal `json:"total_balance"`
}

func newWalletPayload(e domain.LiveEntry) *WalletPayload {
	p := &WalletPayload{
		Address:    e.Summary.Address,
		Name:       e.Summary.Name,
		SOL:        e.Summary.SOL,
		WSOL:       e.Summary.WSOL,
		Total:      e.Summary.Total,
		LastUpdate: e.Summary.LastUpdate,
	}
	if e.Latest != nil {
		p.Latest = &LatestData{
			Time:  e.Latest.Timestamp.Unix(),
			SOL:   e.Latest.SOL,
			WSOL:  e.Latest.WSOL,
			Total: e.Latest.Total,
		}
	}
	return p
}
