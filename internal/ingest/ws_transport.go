package ingest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/pkg/errors"
)

// WSTransport subscribes to account notifications over the Solana websocket API.
type WSTransport struct {
	endpoint   string
	commitment rpc.CommitmentType

	mu     sync.Mutex
	client *ws.Client
}

// NewWSTransport creates a transport for a ws:// or wss:// endpoint.
func NewWSTransport(endpoint string, commitment rpc.CommitmentType) *WSTransport {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &WSTransport{endpoint: endpoint, commitment: commitment}
}

// Connect dials the endpoint.
func (t *WSTransport) Connect(ctx context.Context) error {
	client, err := ws.Connect(ctx, t.endpoint)
	if err != nil {
		return errors.Wrapf(err, "dial %s", t.endpoint)
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

// Subscribe opens one account subscription per watched address and merges them.
func (t *WSTransport) Subscribe(ctx context.Context, filter FilterSpec) (Stream, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, errors.New("websocket transport is not connected")
	}

	var subs []*ws.AccountSubscription
	stream := newChanStream(ctx, func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	})

	for _, address := range filter.Accounts() {
		pk, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			stream.Close()
			return nil, errors.Wrapf(err, "parse %s", address)
		}
		sub, err := client.AccountSubscribeWithOpts(pk, t.commitment, solana.EncodingBase64)
		if err != nil {
			stream.Close()
			return nil, errors.Wrapf(err, "account subscribe %s", address)
		}
		subs = append(subs, sub)

		stream.goProduce(func(ctx context.Context) error {
			for {
				res, err := sub.Recv(ctx)
				if err != nil {
					return errors.Wrapf(err, "recv %s", pk)
				}
				if !stream.send(Event{Account: accountUpdate(pk, res)}) {
					return nil
				}
			}
		})
	}
	stream.start()
	return stream, nil
}

func accountUpdate(pk solana.PublicKey, res *ws.AccountResult) *AccountUpdate {
	key := make([]byte, solana.PublicKeyLength)
	copy(key, pk[:])
	u := &AccountUpdate{
		Pubkey:   key,
		Lamports: res.Value.Lamports,
		Slot:     res.Context.Slot,
	}
	if res.Value.Data != nil {
		u.Data = res.Value.Data.GetBinary()
	}
	return u
}

// Close drops the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Close()
		t.client = nil
	}
	return nil
}
