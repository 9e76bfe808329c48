package domain

import (
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	minAddressLen = 32
	maxAddressLen = 44
)

// Wallet tracked wallet as configured by the operator.
type Wallet struct {
	Address string `yaml:"address" json:"address"`
	Name    string `yaml:"name" json:"name"`
}

// NewWallet trims and validates operator input.
func NewWallet(name, address string) (Wallet, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)

	if name == "" {
		return Wallet{}, NewValidationError("name", "must not be empty")
	}
	if address == "" {
		return Wallet{}, NewValidationError("address", "must not be empty")
	}
	if len(address) < minAddressLen || len(address) > maxAddressLen {
		return Wallet{}, NewValidationError("address", "must be 32 to 44 characters")
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return Wallet{}, NewValidationError("address", "not a valid base58 public key")
	}
	return Wallet{Address: address, Name: name}, nil
}
