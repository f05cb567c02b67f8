package gas

import (
	"context"
	"math"
	"math/big"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	coreabi "github.com/stackup-wallet/erc4337-bundler-core/pkg/abi"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/ethrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

var dummySignature = func() []byte {
	sig := make([]byte, entrypoint.DummySignatureLen)
	for i := range sig {
		sig[i] = 0x01
	}
	return sig
}()

var packArgs = gethabi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes")},
	{Type: mustType("bytes")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes")},
	{Type: mustType("bytes")},
}

func mustType(t string) gethabi.Type {
	ty, err := gethabi.NewType(t, "", nil)
	if err != nil {
		panic("gas: " + err.Error())
	}
	return ty
}

// calcBasePreVerificationGas implements spec.md §4.3.1 steps (a)-(c): substitute
// preVerificationGas with a fixed 21000 placeholder and replace a signature shorter
// than 65 bytes with a 65-byte dummy (longer signatures are packed unchanged), pack the
// resulting tuple, and weigh the packed bytes by
// EntryPoint's zero/non-zero calldata cost plus the fixed per-op/per-word overhead.
// Grounded on original_source/voltaire_bundler/bundler/gas_manager.py's
// calc_base_preverification_gas.
func calcBasePreVerificationGas(op *userop.UserOperation) *big.Int {
	dummy := op.Clone()
	dummy.PreVerificationGas = big.NewInt(entrypoint.FixedGas)
	if len(dummy.Signature) < entrypoint.DummySignatureLen {
		dummy.Signature = dummySignature
	}

	packed, err := packArgs.Pack(
		dummy.Sender, dummy.Nonce, dummy.InitCode, dummy.CallData,
		dummy.CallGasLimit, dummy.VerificationGasLimit, dummy.PreVerificationGas,
		dummy.MaxFeePerGas, dummy.MaxPriorityFeePerGas, dummy.PaymasterAndData, dummy.Signature,
	)
	if err != nil {
		panic("gas: calcBasePreVerificationGas: " + err.Error())
	}

	callDataCost := userop.CallDataCost(packed, entrypoint.ZeroByteGas, entrypoint.NonZeroByteGas)
	lengthInWords := int64(math.Ceil(float64(len(packed)+31) / 32))

	total := new(big.Int).Set(callDataCost)
	total.Add(total, big.NewInt(entrypoint.FixedGas/entrypoint.BundleSize))
	total.Add(total, big.NewInt(entrypoint.PerUserOpGas))
	total.Add(total, big.NewInt(entrypoint.PerUserOpWordGas*lengthInWords))
	return total
}

// CalcPreVerificationGas implements spec.md §4.3.1: the base calldata-weighted gas plus
// an L1 data-availability component on L2 rollups, scaled by an operator-configurable
// percentage coefficient and addition constant.
func (m *Manager) CalcPreVerificationGas(ctx context.Context, op *userop.UserOperation, blockNumber *big.Int, baseFee *big.Int, coefficientPct int64, additionConstant int64) (*big.Int, error) {
	base := calcBasePreVerificationGas(op)

	l1Gas := big.NewInt(0)
	var err error
	switch m.chainID.Int64() {
	case entrypoint.OptimismChainID, entrypoint.OptimismGoerliChainID:
		l1Gas, err = m.calcL1GasEstimateOptimism(ctx, op, blockNumber, baseFee)
	case entrypoint.ArbitrumOneChainID:
		l1Gas, err = m.calcL1GasEstimateArbitrum(ctx, op)
	}
	if err != nil {
		return nil, err
	}

	calculated := new(big.Int).Add(base, l1Gas)
	adjusted := new(big.Int).Mul(calculated, big.NewInt(coefficientPct))
	adjusted = ceilDiv(adjusted, big.NewInt(100))
	adjusted.Add(adjusted, big.NewInt(additionConstant))
	return adjusted, nil
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// calcL1GasEstimateOptimism queries the Optimism gas price oracle's getL1Fee for the
// handleOps calldata this singleton op would produce, then converts the L1 fee (in wei)
// to an L2 gas-unit equivalent using the op's own fee fields, spec.md §4.3.1 step (d).
func (m *Manager) calcL1GasEstimateOptimism(ctx context.Context, op *userop.UserOperation, blockNumber *big.Int, baseFee *big.Int) (*big.Int, error) {
	handleOpsCalldata, err := coreabi.EncodeHandleOpsCalldata([]*userop.UserOperation{op}, entrypoint.ZeroAddress)
	if err != nil {
		return nil, err
	}
	calldata, err := coreabi.EncodeGetL1FeeCalldata(handleOpsCalldata)
	if err != nil {
		return nil, err
	}

	raw, err := m.rpc.Call(ctx, newCallMsg(entrypoint.OptimismGasOracle, calldata), blockNumber)
	if err != nil {
		return nil, err
	}
	l1Fee, err := coreabi.DecodeUint256(raw)
	if err != nil {
		return nil, err
	}

	l2GasPrice := new(big.Int).Add(op.MaxPriorityFeePerGas, baseFee)
	if l2GasPrice.Cmp(op.MaxFeePerGas) > 0 {
		l2GasPrice = op.MaxFeePerGas
	}
	if l2GasPrice.Sign() < 1 {
		l2GasPrice = big.NewInt(1)
	}

	return ceilDiv(l1Fee, l2GasPrice), nil
}

// calcL1GasEstimateArbitrum queries the Arbitrum NodeInterface precompile's
// gasEstimateL1Component for this singleton op's handleOps calldata, spec.md §4.3.1
// step (d).
func (m *Manager) calcL1GasEstimateArbitrum(ctx context.Context, op *userop.UserOperation) (*big.Int, error) {
	handleOpsCalldata, err := coreabi.EncodeHandleOpsCalldata([]*userop.UserOperation{op}, entrypoint.ZeroAddress)
	if err != nil {
		return nil, err
	}
	isInit := op.Nonce.Sign() == 0
	calldata, err := coreabi.EncodeGasEstimateL1ComponentCalldata(m.entryPoint, isInit, handleOpsCalldata)
	if err != nil {
		return nil, err
	}

	raw, err := m.rpc.Call(ctx, newCallMsg(entrypoint.ArbitrumNodeInterface, calldata), nil)
	if err != nil {
		return nil, err
	}
	return coreabi.DecodeUint256(raw)
}

// newCallMsg builds a from-zero-address eth_call message against to, used by the
// Optimism and Arbitrum L1-cost probes.
func newCallMsg(to common.Address, data []byte) ethrpc.CallMsg {
	return ethrpc.CallMsg{To: &to, Data: data}
}
