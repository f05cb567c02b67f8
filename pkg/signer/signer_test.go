package signer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A well-known anvil/hardhat test private key, never used on a real chain.
const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewParsesHexPrivateKey(t *testing.T) {
	eoa, err := New(testPrivateKey)
	require.NoError(t, err)
	assert.NotEqual(t, "0x0000000000000000000000000000000000000000", eoa.Address.Hex())
}

func TestNewAcceptsKeyWithoutPrefix(t *testing.T) {
	withPrefix, err := New(testPrivateKey)
	require.NoError(t, err)

	withoutPrefix, err := New(testPrivateKey[2:])
	require.NoError(t, err)

	assert.Equal(t, withPrefix.Address, withoutPrefix.Address)
}

func TestNewRejectsInvalidKey(t *testing.T) {
	_, err := New("not-a-private-key")
	require.Error(t, err)
}

func TestNewTransactOpts(t *testing.T) {
	eoa, err := New(testPrivateKey)
	require.NoError(t, err)

	opts, err := eoa.NewTransactOpts(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, eoa.Address, opts.From)
}
