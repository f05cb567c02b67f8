package userop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMap() map[string]any {
	return map[string]any{
		"sender":               "0x1234567890123456789012345678901234567890",
		"nonce":                "0x1",
		"initCode":             "0x",
		"callData":             "0xabcdef",
		"callGasLimit":         "0x5208",
		"verificationGasLimit": "0x186a0",
		"preVerificationGas":   "0x5208",
		"maxFeePerGas":         "0x3b9aca00",
		"maxPriorityFeePerGas": "0x3b9aca00",
		"paymasterAndData":     "0x",
		"signature":            "0x",
	}
}

func TestFromMapDecodesAllFields(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0x1234567890123456789012345678901234567890"), op.Sender)
	assert.Equal(t, big.NewInt(1), op.Nonce)
	assert.Equal(t, []byte{0xab, 0xcd, 0xef}, op.CallData)
	assert.Equal(t, big.NewInt(0x186a0), op.VerificationGasLimit)
}

func TestFromMapMissingField(t *testing.T) {
	m := validMap()
	delete(m, "sender")

	_, err := FromMap(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sender")
}

func TestFromMapInvalidHex(t *testing.T) {
	m := validMap()
	m["callData"] = "not-hex"

	_, err := FromMap(m)
	require.Error(t, err)
}

func TestGetFactoryAndPaymaster(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)

	assert.False(t, op.HasFactory())
	assert.Equal(t, common.Address{}, op.GetFactory())
	assert.False(t, op.HasPaymaster())

	factory := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	op.InitCode = append(factory.Bytes(), []byte{0x01, 0x02}...)
	assert.True(t, op.HasFactory())
	assert.Equal(t, factory, op.GetFactory())
}

func TestCloneIsIndependent(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)

	clone := op.Clone()
	clone.Nonce.Add(clone.Nonce, big.NewInt(1))
	clone.CallData[0] = 0xff

	assert.Equal(t, big.NewInt(1), op.Nonce, "mutating the clone must not affect the original")
	assert.Equal(t, byte(0xab), op.CallData[0])
}

func TestGetUserOpHashIsStableAndChainAware(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)

	entryPoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	h1 := op.GetUserOpHash(entryPoint, big.NewInt(1))
	h2 := op.GetUserOpHash(entryPoint, big.NewInt(1))
	assert.Equal(t, h1, h2, "hash must be deterministic for identical inputs")

	h3 := op.GetUserOpHash(entryPoint, big.NewInt(5))
	assert.NotEqual(t, h1, h3, "hash must depend on chain id")
}

func TestCallDataCost(t *testing.T) {
	cost := CallDataCost([]byte{0x00, 0x00, 0x01}, 4, 16)
	assert.Equal(t, big.NewInt(4+4+16), cost)
}

func TestValidateRejectsZeroSender(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)
	op.Sender = common.Address{}

	err = op.Validate(big.NewInt(3000000))
	require.Error(t, err)
}

func TestValidateRejectsExcessiveVerificationGas(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)

	err = op.Validate(big.NewInt(1))
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedOp(t *testing.T) {
	op, err := FromMap(validMap())
	require.NoError(t, err)

	assert.NoError(t, op.Validate(big.NewInt(3000000)))
}

func TestSortedAssociatedAddresses(t *testing.T) {
	op := &UserOperation{
		AssociatedAddresses: []common.Address{
			common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
			common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		},
	}
	sorted := op.SortedAssociatedAddresses()
	assert.Equal(t, common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), sorted[0])
	assert.Equal(t, common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), sorted[1])
}
