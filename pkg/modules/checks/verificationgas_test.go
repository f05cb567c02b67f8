package checks

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/gas"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

func mainnetGasManager() *gas.Manager {
	return gas.NewManager(nil, common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"), big.NewInt(1), false, 100, 100, logr.Discard())
}

func wellFormedOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                big.NewInt(1),
		InitCode:             []byte{},
		CallData:             []byte{0xab, 0xcd},
		CallGasLimit:         big.NewInt(21000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(0),
		MaxFeePerGas:         big.NewInt(1000000000),
		MaxPriorityFeePerGas: big.NewInt(1000000000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func TestValidateVerificationGasRejectsExcessiveLimit(t *testing.T) {
	gm := mainnetGasManager()
	op := wellFormedOp()
	op.VerificationGasLimit = big.NewInt(2_000_000)

	handler := ValidateVerificationGas(gm, big.NewInt(1_000_000), nil, nil, 100, 0)
	ctx := modules.NewUserOpHandlerContext(op, common.Address{}, big.NewInt(1))

	require.Error(t, handler(ctx))
}

func TestValidateVerificationGasRejectsLowPreVerificationGas(t *testing.T) {
	gm := mainnetGasManager()
	op := wellFormedOp()
	op.PreVerificationGas = big.NewInt(1)

	handler := ValidateVerificationGas(gm, big.NewInt(10_000_000), nil, nil, 100, 0)
	ctx := modules.NewUserOpHandlerContext(op, common.Address{}, big.NewInt(1))

	require.Error(t, handler(ctx))
}

func TestValidateVerificationGasAcceptsWellFormedOp(t *testing.T) {
	gm := mainnetGasManager()
	op := wellFormedOp()

	expected, err := gm.CalcPreVerificationGas(context.Background(), op, nil, nil, 100, 0)
	require.NoError(t, err)
	op.PreVerificationGas = expected

	handler := ValidateVerificationGas(gm, big.NewInt(10_000_000), nil, nil, 100, 0)
	ctx := modules.NewUserOpHandlerContext(op, common.Address{}, big.NewInt(1))

	assert.NoError(t, handler(ctx))
}
