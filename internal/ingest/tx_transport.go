package ingest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	signaturePageLimit  = 100
	seenSignaturesLimit = 4096
)

// TxTransport polls recent transactions of the tracked wallets over RPC
// and emits their pre/post balances.
type TxTransport struct {
	client     *rpc.Client
	endpoint   string
	interval   time.Duration
	commitment rpc.CommitmentType
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu       sync.Mutex
	cursor   map[string]solana.Signature
	seen     map[solana.Signature]struct{}
	seenList []solana.Signature
}

// NewTxTransport creates a polling transport for an http(s) RPC endpoint.
func NewTxTransport(endpoint string, interval time.Duration, commitment rpc.CommitmentType,
	logger *zap.Logger, m *metrics.Collector) *TxTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &TxTransport{
		endpoint:   endpoint,
		interval:   interval,
		commitment: commitment,
		logger:     logger,
		metrics:    m,
		cursor:     make(map[string]solana.Signature),
		seen:       make(map[solana.Signature]struct{}),
	}
}

// Connect creates the RPC client and checks the node answers.
func (t *TxTransport) Connect(ctx context.Context) error {
	client := rpc.New(t.endpoint)
	if _, err := client.GetSlot(ctx, t.commitment); err != nil {
		_ = client.Close()
		t.metrics.RPCRequest("getSlot", err)
		return errors.Wrapf(err, "reach %s", t.endpoint)
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

// Subscribe starts polling the wallets of filter and their wrapped SOL accounts.
func (t *TxTransport) Subscribe(ctx context.Context, filter FilterSpec) (Stream, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, errors.New("rpc transport is not connected")
	}

	// wsol transfers list the token account, not its owner
	addresses := t.watched(filter)
	stream := newChanStream(ctx, nil)
	stream.goProduce(func(ctx context.Context) error {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			if err := t.poll(ctx, client, addresses, stream); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	stream.start()
	return stream, nil
}

func (t *TxTransport) watched(filter FilterSpec) []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(filter.Wallets)+len(filter.WSOLAccounts))
	for _, address := range filter.Accounts() {
		pk, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			t.logger.Warn("skip unparsable address", zap.String("address", address), zap.Error(err))
			continue
		}
		out = append(out, pk)
	}
	return out
}

func (t *TxTransport) poll(ctx context.Context, client *rpc.Client, addresses []solana.PublicKey, stream *chanStream) error {
	for _, pk := range addresses {
		if err := t.pollAddress(ctx, client, pk, stream); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (t *TxTransport) pollAddress(ctx context.Context, client *rpc.Client, pk solana.PublicKey, stream *chanStream) error {
	address := pk.String()

	t.mu.Lock()
	until, known := t.cursor[address]
	t.mu.Unlock()

	limit := signaturePageLimit
	if !known {
		limit = 1
	}
	sigs, err := client.GetSignaturesForAddressWithOpts(ctx, pk, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Until:      until,
		Commitment: t.commitment,
	})
	t.metrics.RPCRequest("getSignaturesForAddress", err)
	if err != nil {
		return errors.Wrapf(err, "signatures of %s", address)
	}
	if len(sigs) == 0 {
		// an empty account starts from its very first transaction
		if !known {
			t.mu.Lock()
			t.cursor[address] = solana.Signature{}
			t.mu.Unlock()
		}
		return nil
	}

	t.mu.Lock()
	t.cursor[address] = sigs[0].Signature
	t.mu.Unlock()

	// the first poll only positions the cursor; balances come from the startup fetch
	if !known {
		return nil
	}

	// oldest first
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i].Signature
		if !t.markSeen(sig) {
			continue
		}
		update, err := t.fetch(ctx, client, sig)
		if err != nil {
			return err
		}
		if update == nil {
			continue
		}
		if !stream.send(Event{Transaction: update}) {
			return nil
		}
	}
	return nil
}

// markSeen reports whether sig is new. A transaction touching several watched accounts is emitted once.
func (t *TxTransport) markSeen(sig solana.Signature) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[sig]; ok {
		return false
	}
	t.seen[sig] = struct{}{}
	t.seenList = append(t.seenList, sig)
	if len(t.seenList) > seenSignaturesLimit {
		delete(t.seen, t.seenList[0])
		t.seenList = t.seenList[1:]
	}
	return true
}

func (t *TxTransport) fetch(ctx context.Context, client *rpc.Client, sig solana.Signature) (*TransactionUpdate, error) {
	maxVersion := uint64(0)
	res, err := client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     t.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	t.metrics.RPCRequest("getTransaction", err)
	if err != nil {
		return nil, errors.Wrapf(err, "get transaction %s", sig)
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return nil, nil
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		// a single undecodable transaction is skipped, not fatal for the stream
		t.logger.Warn("skip undecodable transaction", zap.Stringer("signature", sig), zap.Error(err))
		return nil, nil
	}
	return newTransactionUpdate(sig.String(), res.Slot, tx.Message.AccountKeys, res.Meta), nil
}

// newTransactionUpdate resolves account keys in runtime order: static, loaded writable, loaded readonly.
func newTransactionUpdate(sig string, slot uint64, static solana.PublicKeySlice, meta *rpc.TransactionMeta) *TransactionUpdate {
	keys := make([]string, 0, len(static)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	for _, group := range []solana.PublicKeySlice{static, meta.LoadedAddresses.Writable, meta.LoadedAddresses.ReadOnly} {
		for _, key := range group {
			keys = append(keys, key.String())
		}
	}
	return &TransactionUpdate{
		Signature:         sig,
		Slot:              slot,
		AccountKeys:       keys,
		PreBalances:       meta.PreBalances,
		PostBalances:      meta.PostBalances,
		PreTokenBalances:  tokenBalances(meta.PreTokenBalances),
		PostTokenBalances: tokenBalances(meta.PostTokenBalances),
	}
}

func tokenBalances(in []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		if b.UiTokenAmount == nil {
			continue
		}
		amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
			Amount:       amount,
			Decimals:     int32(b.UiTokenAmount.Decimals),
		})
	}
	return out
}

// Close releases the RPC client.
func (t *TxTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
