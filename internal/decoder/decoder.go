// Package decoder turns raw Solana account bytes into normalized balances.
package decoder

import (
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// TokenAccountSize length of an SPL token account.
	TokenAccountSize = 165
	// WSOLDecimals decimals of the wrapped SOL mint.
	WSOLDecimals = 9
)

var (
	WSOLMint                 = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	TokenProgramID           = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

var (
	ErrInvalidLength    = errors.New("unexpected account data length")
	ErrInvalidAccountID = errors.New("invalid account id")
)

// ParseAccountID parses a base58 wallet address.
func ParseAccountID(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, errors.Wrapf(ErrInvalidAccountID, "%s: %v", address, err)
	}
	return pk, nil
}

// AccountIDFromBytes encodes a raw 32 byte key as base58.
func AccountIDFromBytes(raw []byte) (string, error) {
	if len(raw) != solana.PublicKeyLength {
		return "", errors.Wrapf(ErrInvalidAccountID, "got %d bytes", len(raw))
	}
	return solana.PublicKeyFromBytes(raw).String(), nil
}

// DeriveWSOLAddress returns the associated wrapped SOL account of a wallet.
func DeriveWSOLAddress(wallet string) (string, error) {
	owner, err := ParseAccountID(wallet)
	if err != nil {
		return "", err
	}
	ata, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], TokenProgramID[:], WSOLMint[:]},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return "", errors.Wrapf(err, "derive wsol account of %s", wallet)
	}
	return ata.String(), nil
}

// DecodeTokenAccount decodes the fixed SPL token account layout.
func DecodeTokenAccount(data []byte) (*token.Account, error) {
	if len(data) != TokenAccountSize {
		return nil, errors.Wrapf(ErrInvalidLength, "token account: got %d, want %d", len(data), TokenAccountSize)
	}
	var acc token.Account
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return nil, errors.Wrap(err, "decode token account")
	}
	return &acc, nil
}

// DecodeWSOLAmount decodes a token account and scales its amount by the WSOL decimals.
func DecodeWSOLAmount(data []byte) (decimal.Decimal, error) {
	acc, err := DecodeTokenAccount(data)
	if err != nil {
		return decimal.Zero, err
	}
	return ScaleAmount(acc.Amount, WSOLDecimals), nil
}

// ScaleAmount converts a raw token amount into its decimal representation.
func ScaleAmount(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}
