package ingest

import (
	"github.com/mioxtw/sol-wallet-monitor/internal/decoder"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BuildFilter watches every wallet plus its derived wrapped SOL account.
// Wallets whose account cannot be derived are watched for SOL only.
func BuildFilter(wallets []string, logger *zap.Logger) FilterSpec {
	f := FilterSpec{
		Wallets:      make(map[string]struct{}, len(wallets)),
		WSOLAccounts: make(map[string]string, len(wallets)),
	}
	for _, wallet := range wallets {
		f.Wallets[wallet] = struct{}{}
		ata, err := decoder.DeriveWSOLAddress(wallet)
		if err != nil {
			logger.Warn("skip wsol account", zap.String("wallet", wallet), zap.Error(err))
			continue
		}
		f.WSOLAccounts[ata] = wallet
	}
	return f
}

// Demux maps one stream event to the balance updates it carries.
func Demux(ev Event, f FilterSpec) ([]Update, error) {
	switch {
	case ev.Account != nil:
		return demuxAccount(ev.Account, f)
	case ev.Transaction != nil:
		return demuxTransaction(ev.Transaction, f), nil
	default:
		return nil, errors.New("empty event")
	}
}

func demuxAccount(u *AccountUpdate, f FilterSpec) ([]Update, error) {
	address, err := decoder.AccountIDFromBytes(u.Pubkey)
	if err != nil {
		return nil, err
	}

	if f.IsWallet(address) {
		return []Update{{Kind: UpdateSOL, Address: address, Lamports: u.Lamports}}, nil
	}

	owner, ok := f.Owner(address)
	if !ok {
		return nil, nil
	}
	amount, err := decoder.DecodeWSOLAmount(u.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "wsol account %s", address)
	}
	return []Update{{Kind: UpdateWSOL, Address: owner, WSOL: amount}}, nil
}

// demuxTransaction compares pre and post balances of the tracked accounts.
func demuxTransaction(tx *TransactionUpdate, f FilterSpec) []Update {
	var out []Update

	for i, key := range tx.AccountKeys {
		if !f.IsWallet(key) || i >= len(tx.PreBalances) || i >= len(tx.PostBalances) {
			continue
		}
		if tx.PreBalances[i] != tx.PostBalances[i] {
			out = append(out, Update{Kind: UpdateSOL, Address: key, Lamports: tx.PostBalances[i]})
		}
	}

	wsolMint := decoder.WSOLMint.String()
	pre := tokenBalancesByIndex(tx.PreTokenBalances, wsolMint)
	post := tokenBalancesByIndex(tx.PostTokenBalances, wsolMint)

	indexes := make(map[int]struct{}, len(pre)+len(post))
	for idx := range pre {
		indexes[idx] = struct{}{}
	}
	for idx := range post {
		indexes[idx] = struct{}{}
	}

	for idx := range indexes {
		if idx < 0 || idx >= len(tx.AccountKeys) {
			continue
		}
		owner, ok := f.Owner(tx.AccountKeys[idx])
		if !ok {
			continue
		}
		before, hadBefore := pre[idx]
		after, hasAfter := post[idx]
		if hadBefore && hasAfter && before.Amount == after.Amount {
			continue
		}
		// closed accounts have no post balance
		decimals := int32(decoder.WSOLDecimals)
		var amount uint64
		if hasAfter {
			amount, decimals = after.Amount, after.Decimals
		}
		out = append(out, Update{Kind: UpdateWSOL, Address: owner, WSOL: decoder.ScaleAmount(amount, decimals)})
	}

	return out
}

func tokenBalancesByIndex(balances []TokenBalance, mint string) map[int]TokenBalance {
	out := make(map[int]TokenBalance, len(balances))
	for _, b := range balances {
		if b.Mint == mint {
			out[b.AccountIndex] = b
		}
	}
	return out
}
