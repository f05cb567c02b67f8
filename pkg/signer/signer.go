// Package signer provides an EOA wrapper used by pkg/modules/relay to sign and send
// handleOps() transactions. Rebuilt from the call-site convention at
// internal/config/values.go's signer.New(viper.GetString(...)) — the package itself
// wasn't among the retrieval pack's files.
package signer

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
)

// EOA wraps a private key, exposing the common.Address it signs for and a
// chain-bound *bind.TransactOpts for submitting transactions.
type EOA struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// New parses a hex-encoded private key (with or without a leading "0x") into an EOA.
func New(privateKeyHex string) (*EOA, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, &bundlererrors.InvalidFields{Reason: "private key: " + err.Error()}
	}
	return &EOA{
		PrivateKey: key,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewTransactOpts returns a *bind.TransactOpts bound to chainID, suitable for a single
// handleOps() submission.
func (e *EOA) NewTransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(e.PrivateKey, chainID)
	if err != nil {
		return nil, &bundlererrors.RpcError{Message: "transact opts: " + err.Error()}
	}
	return opts, nil
}
