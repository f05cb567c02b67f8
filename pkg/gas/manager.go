// Package gas implements GasManager: pre-verification gas accounting, call-gas and
// verification-gas estimation via the EntryPoint's revert-as-result simulation
// protocol, and network fee verification. Grounded on
// original_source/voltaire_bundler/bundler/gas_manager.py, translated into the
// teacher's typed-error/context.Context idiom.
package gas

import (
	"context"
	"math"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"

	coreabi "github.com/stackup-wallet/erc4337-bundler-core/pkg/abi"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/ethrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/state"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// Manager is the GasManager described in spec.md §4.3: it estimates callGasLimit,
// verificationGasLimit, and preVerificationGas for a UserOperation ahead of mempool
// admission, and verifies a submitted op's fee fields clear the current network price.
type Manager struct {
	rpc        *ethrpc.Client
	entryPoint common.Address
	chainID    *big.Int
	log        logr.Logger

	legacyMode                               bool
	maxFeePerGasPercentageMultiplier         int64
	maxPriorityFeePerGasPercentageMultiplier int64

	// estimateGasWithOverrideEnabled is a one-way latch: once a node proves it
	// rejects eth_estimateGas's overrides argument, every later call for the
	// lifetime of this Manager falls straight to the binary-search strategy,
	// spec.md §4.3.2 Strategy A.
	estimateGasWithOverrideEnabled atomic.Bool
}

// NewManager constructs a Manager bound to a single EntryPoint/chain pair.
func NewManager(rpcClient *ethrpc.Client, entryPoint common.Address, chainID *big.Int, legacyMode bool, maxFeeMultiplier, maxPriorityFeeMultiplier int64, log logr.Logger) *Manager {
	m := &Manager{
		rpc:        rpcClient,
		entryPoint: entryPoint,
		chainID:    chainID,
		log:        log.WithName("gas"),
		legacyMode: legacyMode,
		maxFeePerGasPercentageMultiplier:         maxFeeMultiplier,
		maxPriorityFeePerGasPercentageMultiplier: maxPriorityFeeMultiplier,
	}
	m.estimateGasWithOverrideEnabled.Store(true)
	return m
}

// GasEstimates is the combined result of EstimateAll,
// spec.md §4.3 "the triple the JSON-RPC layer returns from eth_estimateUserOperationGas".
type GasEstimates struct {
	CallGasLimit         *big.Int
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
}

// EstimateAll runs the full estimation pipeline spec.md §4.3 describes: pre-verification
// gas first (it feeds into the dummy op used for the other two estimates), then call
// gas, then verification gas. op is mutated in place; callers that need the original op
// untouched must Clone() first.
func (m *Manager) EstimateAll(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, overrides state.Overrides, pvgCoefficientPct, pvgAdditionConstant int64) (*GasEstimates, error) {
	pvg, err := m.CalcPreVerificationGas(ctx, op, blockNumber, baseFee, pvgCoefficientPct, pvgAdditionConstant)
	if err != nil {
		return nil, err
	}
	op.PreVerificationGas = pvg
	op.VerificationGasLimit = big.NewInt(entrypoint.MaxVerificationGasLimit)

	callGasLimit, err := m.EstimateCallGasLimit(ctx, op, blockNumber, baseFee, overrides)
	if err != nil {
		return nil, err
	}

	verificationGasLimit, err := m.EstimateVerificationGasLimit(ctx, op, blockNumber, baseFee, overrides)
	if err != nil {
		return nil, err
	}

	return &GasEstimates{CallGasLimit: callGasLimit, PreVerificationGas: pvg, VerificationGasLimit: verificationGasLimit}, nil
}

// EstimateCallGasLimit implements spec.md §4.3.2. It prefers eth_estimateGas with a
// state-override argument (Strategy A) for undeployed-account-free ops, and falls back
// to — or for ops with initCode, goes straight to — the GasHelper binary search
// (Strategy B).
func (m *Manager) EstimateCallGasLimit(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, overrides state.Overrides) (*big.Int, error) {
	overridesEmpty := len(overrides) == 0
	if !op.HasFactory() && (m.estimateGasWithOverrideEnabled.Load() || overridesEmpty) {
		limit, err := m.estimateCallGasLimitUsingEthEstimate(ctx, op, overrides)
		if err == nil {
			return limit, nil
		}
		if err != bundlererrors.ErrMethodNotFound {
			return nil, err
		}
		m.estimateGasWithOverrideEnabled.Store(false)
	}
	return m.estimateCallGasLimitBinarySearch(ctx, op, blockNumber, baseFee, overrides)
}

// estimateCallGasLimitUsingEthEstimate asks the node directly via eth_estimateGas, then
// subtracts the intrinsic 21000 + calldata cost the node includes but callGasLimit
// should not, spec.md §4.3.2 Strategy A.
func (m *Manager) estimateCallGasLimitUsingEthEstimate(ctx context.Context, op *userop.UserOperation, overrides state.Overrides) (*big.Int, error) {
	if len(op.CallData) == 0 {
		return big.NewInt(0), nil
	}

	msg := ethrpc.CallMsg{From: op.Sender, To: &op.Sender, Data: op.CallData}

	var (
		gasUsed uint64
		err     error
	)
	if len(overrides) == 0 {
		gasUsed, err = m.rpc.EstimateGas(ctx, msg)
	} else {
		gasUsed, err = m.rpc.EstimateGasWithOverrides(ctx, msg, overrides)
	}
	if err != nil {
		return nil, err
	}

	callDataCost := userop.CallDataCost(op.CallData, entrypoint.ZeroByteGas, entrypoint.NonZeroByteGas)
	intrinsic := new(big.Int).Add(big.NewInt(entrypoint.FixedGas), callDataCost)
	return new(big.Int).Sub(big.NewInt(int64(gasUsed)), intrinsic), nil
}

// estimateCallGasLimitBinarySearch deploys the GasHelper bytecode at the EntryPoint via
// state override and binary-searches for the minimal callGasLimit at which the target
// call succeeds, spec.md §4.3.2 Strategy B.
func (m *Manager) estimateCallGasLimitBinarySearch(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, overrides state.Overrides) (*big.Int, error) {
	success, gasUsed, data, err := m.getCallDataGasUsed(ctx, op, big.NewInt(entrypoint.MaxCallGasLimit), blockNumber, baseFee, overrides)
	if err != nil {
		return nil, err
	}
	if !success {
		return nil, &bundlererrors.ExecutionReverted{Data: data}
	}

	left, right, err := m.findMaxMinGas(ctx, op, blockNumber, baseFee, overrides, gasUsed)
	if err != nil {
		return nil, err
	}

	for left.Int64()+entrypoint.BinarySearchTolerance < right.Int64() {
		mid := new(big.Int).Sub(right, left)
		mid = ceilDiv(mid, big.NewInt(2))
		mid.Add(mid, left)

		ok, _, _, err := m.getCallDataGasUsed(ctx, op, mid, blockNumber, baseFee, overrides)
		if err != nil {
			return nil, err
		}
		if ok {
			right = mid
		} else {
			left = new(big.Int).Add(mid, big.NewInt(1))
		}
	}

	return right, nil
}

// findMaxMinGas exponentially expands the search window starting from gasUsed until it
// brackets the true minimum, or until MAX_CALL_GAS_LIMIT is reached, spec.md §4.3.2.
func (m *Manager) findMaxMinGas(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, overrides state.Overrides, gasUsed *big.Int) (minGas, maxGas *big.Int, err error) {
	minGas = new(big.Int).Set(gasUsed)
	maxGas = new(big.Int).Mul(gasUsed, big.NewInt(2))
	index := 1

	for maxGas.Int64() < entrypoint.MaxCallGasLimit {
		success, used, _, callErr := m.getCallDataGasUsed(ctx, op, maxGas, blockNumber, baseFee, overrides)
		if callErr != nil {
			return nil, nil, callErr
		}
		if success {
			return minGas, maxGas, nil
		}
		index++
		minGas = new(big.Int).Set(maxGas)
		scaled := math.Ceil(math.Pow(2, float64(index)) * float64(used.Int64()))
		maxGas = big.NewInt(int64(scaled))
		if maxGas.Int64() > entrypoint.MaxCallGasLimit {
			maxGas = big.NewInt(entrypoint.MaxCallGasLimit)
		}
	}
	return minGas, maxGas, nil
}

// getCallDataGasUsed calls the GasHelper's testCallGas(sender, initCode, callData,
// callGasLimit) at the EntryPoint address under a code-override, spec.md §4.3.2 /
// §6.
func (m *Manager) getCallDataGasUsed(ctx context.Context, op *userop.UserOperation, callGasLimit *big.Int, blockNumber, baseFee *big.Int, overrides state.Overrides) (success bool, gasUsed *big.Int, data []byte, err error) {
	calldata, err := coreabi.EncodeTestCallGasCalldata(op.Sender, op.InitCode, op.CallData, callGasLimit)
	if err != nil {
		return false, nil, nil, err
	}

	msg := ethrpc.CallMsg{To: &m.entryPoint, Data: calldata, GasPrice: baseFee}
	withGasHelper := state.WithGasHelperOverride(m.entryPoint, overrides)

	raw, err := m.rpc.CallWithOverrides(ctx, msg, withGasHelper)
	if err != nil {
		return false, nil, nil, err
	}

	success, gasUsed, data, err = coreabi.DecodeTestCallGasResult(raw)
	if err != nil {
		return false, nil, nil, err
	}
	return success, gasUsed, data, nil
}

// EstimateVerificationGasLimit runs simulateHandleOp with callGasLimit pinned to
// MAX_CALL_GAS_LIMIT (so the call phase can never run out of gas first) and derives
// verificationGasLimit from the returned preOpGas, spec.md §4.3.2.
func (m *Manager) EstimateVerificationGasLimit(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, overrides state.Overrides) (*big.Int, error) {
	probe := op.Clone()
	probe.CallGasLimit = big.NewInt(entrypoint.MaxCallGasLimit)

	preOpGas, _, _, _, err := m.SimulateHandleOp(ctx, probe, blockNumber, baseFee, overrides, entrypoint.ZeroAddress, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(preOpGas, probe.PreVerificationGas), nil
}

// SimulateHandleOp calls simulateHandleOp(op, target, targetCallData) and decodes its
// structured revert, spec.md §4.3.4/§9 "revert-as-result". The zero address always gets
// the max balance. When target is the zero address, the paymaster's EntryPoint deposit
// (if there is a paymaster) or else the sender's own balance is also overridden to the
// max; for any other target, the EntryPoint deposit of the paymaster (if any) or else of
// the sender is overridden to the max.
func (m *Manager) SimulateHandleOp(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, overrides state.Overrides, target common.Address, targetCallData []byte) (preOpGas, paid *big.Int, targetSuccess bool, targetResult []byte, err error) {
	calldata, err := coreabi.EncodeSimulateHandleOpCalldata(op, target, targetCallData)
	if err != nil {
		return nil, nil, false, nil, err
	}

	withOverrides := state.WithMaxBalanceOverride(entrypoint.ZeroAddress, overrides)
	if target == entrypoint.ZeroAddress {
		if op.HasPaymaster() {
			withOverrides = state.WithDepositSlotOverride(m.entryPoint, op.GetPaymaster(), withOverrides)
		} else {
			withOverrides = state.WithMaxBalanceOverride(op.Sender, withOverrides)
		}
	} else if op.HasPaymaster() {
		withOverrides = state.WithDepositSlotOverride(m.entryPoint, op.GetPaymaster(), withOverrides)
	} else {
		withOverrides = state.WithDepositSlotOverride(m.entryPoint, op.Sender, withOverrides)
	}

	msg := ethrpc.CallMsg{To: &m.entryPoint, Data: calldata, GasPrice: baseFee}
	raw, callErr := m.rpc.CallWithOverrides(ctx, msg, withOverrides)
	if callErr != nil {
		return nil, nil, false, nil, callErr
	}

	sel, params, selErr := coreabi.SelectorOf(raw)
	if selErr != nil {
		return nil, nil, false, nil, &bundlererrors.SimulationDidNotRevert{Method: "simulateHandleOp"}
	}

	switch sel {
	case entrypoint.ExecutionResultSelector:
		return coreabi.DecodeExecutionResult(params)
	case entrypoint.FailedOpSelector:
		_, _, reason, decErr := coreabi.DecodeFailedOp(params)
		if decErr != nil {
			return nil, nil, false, nil, decErr
		}
		return nil, nil, false, nil, &bundlererrors.SimulateValidationErr{Reason: reason}
	case entrypoint.ErrorStringSelector:
		reason, decErr := coreabi.DecodeErrorString(params)
		if decErr != nil {
			return nil, nil, false, nil, decErr
		}
		return nil, nil, false, nil, &bundlererrors.SimulateValidationErr{Reason: reason}
	default:
		return nil, nil, false, nil, &bundlererrors.SimulateValidationErr{Reason: "unrecognized revert selector"}
	}
}
