// Package ingest keeps a streaming subscription open and feeds balance changes into the store.
package ingest

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	SourceAccount     = "account"
	SourceTransaction = "transaction"
	SourceReconcile   = "reconcile"
)

// AccountUpdate raw push notification for one account.
type AccountUpdate struct {
	Pubkey   []byte
	Lamports uint64
	Data     []byte
	Slot     uint64
}

// TokenBalance token balance entry of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Amount       uint64
	Decimals     int32
}

// TransactionUpdate balance-relevant part of a confirmed transaction.
type TransactionUpdate struct {
	Signature         string
	Slot              uint64
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Event one item of a stream. Exactly one field is set.
type Event struct {
	Account     *AccountUpdate
	Transaction *TransactionUpdate
}

// FilterSpec accounts a subscription watches.
type FilterSpec struct {
	Wallets map[string]struct{}
	// WSOLAccounts maps a derived wrapped SOL account to its owner wallet.
	WSOLAccounts map[string]string
}

// IsWallet reports whether address is a tracked wallet.
func (f FilterSpec) IsWallet(address string) bool {
	_, ok := f.Wallets[address]
	return ok
}

// Owner returns the wallet owning a wrapped SOL account.
func (f FilterSpec) Owner(wsolAccount string) (string, bool) {
	owner, ok := f.WSOLAccounts[wsolAccount]
	return owner, ok
}

// Accounts returns every watched address, sorted.
func (f FilterSpec) Accounts() []string {
	out := append(lo.Keys(f.Wallets), lo.Keys(f.WSOLAccounts)...)
	sort.Strings(out)
	return out
}

// Stream open subscription.
type Stream interface {
	// Events is closed when the stream ends.
	Events() <-chan Event
	// Err returns the terminal error once Events is closed.
	Err() error
	Close()
}

// Transport connection able to open subscriptions. Backoff is owned by the Loop.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, filter FilterSpec) (Stream, error)
	Close() error
}

// UpdateKind which balance an Update carries.
type UpdateKind int

const (
	UpdateSOL UpdateKind = iota
	UpdateWSOL
)

func (k UpdateKind) String() string {
	if k == UpdateWSOL {
		return "wsol"
	}
	return "sol"
}

// Update demultiplexed balance change of a tracked wallet.
type Update struct {
	Kind     UpdateKind
	Address  string
	Lamports uint64
	WSOL     decimal.Decimal
}
