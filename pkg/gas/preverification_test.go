package gas

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// mainnetManager returns a Manager bound to chain id 1, which never triggers the
// Optimism/Arbitrum L1-gas branches of CalcPreVerificationGas and therefore never
// dials the wrapped rpc client, letting these tests run with a nil *ethrpc.Client.
func mainnetManager() *Manager {
	return NewManager(nil, common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"), big.NewInt(1), false, 100, 100, logr.Discard())
}

func sampleOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                big.NewInt(1),
		InitCode:             []byte{},
		CallData:             []byte{0xab, 0xcd, 0xef},
		CallGasLimit:         big.NewInt(21000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(0),
		MaxFeePerGas:         big.NewInt(1000000000),
		MaxPriorityFeePerGas: big.NewInt(1000000000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func TestCalcPreVerificationGasDeterministicOnL1(t *testing.T) {
	m := mainnetManager()
	op := sampleOp()

	pvg1, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)

	pvg2, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)

	assert.Equal(t, pvg1, pvg2)
	assert.True(t, pvg1.Sign() > 0, "pre-verification gas must be positive")
}

func TestCalcPreVerificationGasCoefficientScalesResult(t *testing.T) {
	m := mainnetManager()
	op := sampleOp()

	base, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)

	doubled, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 200, 0)
	require.NoError(t, err)

	assert.Equal(t, new(big.Int).Mul(base, big.NewInt(2)), doubled)
}

func TestCalcPreVerificationGasAdditionConstantIsAdded(t *testing.T) {
	m := mainnetManager()
	op := sampleOp()

	base, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)

	withAddition, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 5000)
	require.NoError(t, err)

	assert.Equal(t, new(big.Int).Add(base, big.NewInt(5000)), withAddition)
}

func TestCalcPreVerificationGasLargerCallDataCostsMore(t *testing.T) {
	m := mainnetManager()

	small := sampleOp()
	small.CallData = []byte{0x01}

	large := sampleOp()
	large.CallData = make([]byte, 512)
	for i := range large.CallData {
		large.CallData[i] = 0xff
	}

	smallPVG, err := m.CalcPreVerificationGas(context.Background(), small, nil, nil, 100, 0)
	require.NoError(t, err)
	largePVG, err := m.CalcPreVerificationGas(context.Background(), large, nil, nil, 100, 0)
	require.NoError(t, err)

	assert.True(t, largePVG.Cmp(smallPVG) > 0, "larger calldata must cost more pre-verification gas")
}

func TestCeilDivRoundsUpOnRemainder(t *testing.T) {
	assert.Equal(t, big.NewInt(2), ceilDiv(big.NewInt(3), big.NewInt(2)))
	assert.Equal(t, big.NewInt(1), ceilDiv(big.NewInt(2), big.NewInt(2)))
	assert.Equal(t, big.NewInt(0), ceilDiv(big.NewInt(0), big.NewInt(2)))
}

func TestVerifyPreVerificationGasAndVerificationGasLimitRejectsLowPVG(t *testing.T) {
	m := mainnetManager()
	op := sampleOp()
	op.PreVerificationGas = big.NewInt(1)

	err := m.VerifyPreVerificationGasAndVerificationGasLimit(context.Background(), op, nil, nil, 100, 0)
	require.Error(t, err)
}

func TestVerifyPreVerificationGasAndVerificationGasLimitRejectsExcessiveVerificationGas(t *testing.T) {
	m := mainnetManager()
	op := sampleOp()
	op.VerificationGasLimit = big.NewInt(entrypoint.MaxVerificationGasLimit + 1)

	expected, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)
	op.PreVerificationGas = expected

	err = m.VerifyPreVerificationGasAndVerificationGasLimit(context.Background(), op, nil, nil, 100, 0)
	require.Error(t, err)
}

func TestVerifyPreVerificationGasAndVerificationGasLimitAcceptsWellFormedOp(t *testing.T) {
	m := mainnetManager()
	op := sampleOp()

	expected, err := m.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)
	op.PreVerificationGas = expected

	assert.NoError(t, m.VerifyPreVerificationGasAndVerificationGasLimit(context.Background(), op, nil, nil, 100, 0))
}
