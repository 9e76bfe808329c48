package clients

import (
	"context"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/mioxtw/sol-wallet-monitor/internal/decoder"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/mioxtw/sol-wallet-monitor/pkg/retrier"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultRPCTimeout = 10 * time.Second

const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type balanceAPI interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// SolanaClient reads wallet balances on demand over JSON-RPC.
type SolanaClient struct {
	api        balanceAPI
	closer     func() error
	commitment rpc.CommitmentType
	timeout    time.Duration
	retrier    *retrier.Retrier
	metrics    *metrics.Collector
}

// NewSolanaClient creates a client for an http(s) RPC endpoint. retries bounds the
// attempts of the native balance call.
func NewSolanaClient(endpoint string, timeout time.Duration, retries int, m *metrics.Collector) *SolanaClient {
	client := rpc.New(endpoint)
	c := newSolanaClient(client, timeout, retries, m)
	c.closer = client.Close
	return c
}

func newSolanaClient(api balanceAPI, timeout time.Duration, retries int, m *metrics.Collector) *SolanaClient {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	if retries < 0 {
		retries = 0
	}
	return &SolanaClient{
		api:        api,
		commitment: rpc.CommitmentConfirmed,
		timeout:    timeout,
		retrier: retrier.New(
			retrier.WithMaxRetries(retries),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithMaxInterval(2*time.Second),
			retrier.WithRetryIf(retryable),
		),
		metrics: m,
	}
}

// FetchBalances returns the native balance and the WSOL balance of a wallet.
// A missing or unreadable WSOL account yields zero with WSOLErr set.
func (c *SolanaClient) FetchBalances(ctx context.Context, address string) (domain.Balances, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.Balances{}, errors.Wrap(decoder.ErrInvalidAccountID, err.Error())
	}

	lamports, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (uint64, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		res, err := c.api.GetBalance(callCtx, owner, c.commitment)
		c.metrics.RPCRequest("getBalance", err)
		if err != nil {
			return 0, err
		}
		return res.Value, nil
	})
	if err != nil {
		return domain.Balances{}, errors.Wrapf(err, "get balance of %s", address)
	}

	out := domain.Balances{Lamports: lamports, WSOL: decimal.Zero}
	out.WSOL, out.WSOLErr = c.fetchWSOL(ctx, owner)
	return out, nil
}

func (c *SolanaClient) fetchWSOL(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	address, err := decoder.DeriveWSOLAddress(owner.String())
	if err != nil {
		return decimal.Zero, err
	}
	ata := solana.MustPublicKeyFromBase58(address)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.api.GetTokenAccountBalance(callCtx, ata, c.commitment)
	c.metrics.RPCRequest("getTokenAccountBalance", err)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get token account balance")
	}
	if res == nil || res.Value == nil {
		return decimal.Zero, errors.New("empty token account balance")
	}

	raw, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", res.Value.Amount)
	}
	return decoder.ScaleAmount(raw, int32(res.Value.Decimals)), nil
}

// retryable rejects JSON-RPC errors caused by the request itself.
func retryable(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return true
	}
	switch rpcErr.Code {
	case codeInvalidRequest, codeMethodNotFound, codeInvalidParams:
		return false
	}
	return true
}

// Close releases the underlying HTTP client.
func (c *SolanaClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
