// Package validation implements ValidationManager: the simulateValidation
// revert-as-result protocol, associated-address discovery, and code-hash pinning
// described in spec.md §4.2. Grounded on
// original_source/bundler/validation_manager.py for the selector-split dispatch.
// simulateHandleOp's ExecutionResult/FailedOp/Error(string) classification (also
// documented in original_source/voltaire_bundler/bundler/gas_manager.py's
// simulate_handle_op) is pkg/gas.Manager.SimulateHandleOp's responsibility: that
// manager builds the balance/deposit state overrides gas estimation needs, which this
// package's bundler-supplied "from" address call has no occasion to do.
package validation

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-logr/logr"

	coreabi "github.com/stackup-wallet/erc4337-bundler-core/pkg/abi"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/ethrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// Outcome is the decoded result of a successful simulateValidation call. A FailedOp
// revert is never wrapped in an Outcome — it surfaces directly as a
// RejectedByEntryPointOrAccount error, since there is nothing further to classify.
type Outcome struct {
	ReturnInfo *coreabi.ReturnInfo
	Sender     *coreabi.StakeInfo
	Factory    *coreabi.StakeInfo
	Paymaster  *coreabi.StakeInfo
}

// Manager is the ValidationManager bound to a single EntryPoint.
type Manager struct {
	rpc        *ethrpc.Client
	entryPoint common.Address
	bundler    common.Address
	log        logr.Logger

	// Tracer is an optional debug_traceCall-based associated-address discovery
	// seam, grounded on other_examples/.../tracevalidation.go.go's
	// TraceSimulateValidation. Nil by default: AssociatedAddresses then falls back
	// to the static {sender, factory, paymaster} set, spec.md §4.2.
	Tracer Tracer
}

// Tracer discovers every contract address touched during an op's validation phase,
// beyond the three roles the protocol names explicitly. Implementations typically wrap
// a debug_traceCall against a bundler-collector-style JS tracer.
type Tracer interface {
	TraceAssociatedAddresses(ctx context.Context, entryPoint common.Address, op *userop.UserOperation) ([]common.Address, error)
}

// NewManager constructs a Manager. bundler is the address used as the "from" field of
// simulation calls — it need not be funded, since simulateValidation/simulateHandleOp
// never debit it for real.
func NewManager(rpcClient *ethrpc.Client, entryPoint, bundler common.Address, log logr.Logger) *Manager {
	return &Manager{rpc: rpcClient, entryPoint: entryPoint, bundler: bundler, log: log.WithName("validation")}
}

// SimulateValidation implements spec.md §4.2: eth_call simulateValidation(op),
// assert it reverted, and dispatch the revert payload by selector. Mirrors
// original_source/bundler/validation_manager.py's simulate_validation_and_decode_result.
func (m *Manager) SimulateValidation(ctx context.Context, op *userop.UserOperation) (*Outcome, error) {
	calldata, err := coreabi.EncodeSimulateValidationCalldata(op)
	if err != nil {
		return nil, err
	}

	msg := ethrpc.CallMsg{From: m.bundler, To: &m.entryPoint, Data: calldata}
	raw, err := m.rpc.CallWithOverrides(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	sel, params, err := coreabi.SelectorOf(raw)
	if err != nil {
		return nil, &bundlererrors.SimulationDidNotRevert{Method: "simulateValidation"}
	}

	switch sel {
	case entrypoint.FailedOpSelector:
		_, _, reason, decErr := coreabi.DecodeFailedOp(params)
		if decErr != nil {
			return nil, decErr
		}
		return nil, &bundlererrors.RejectedByEntryPointOrAccount{Reason: reason}
	case entrypoint.ValidationResultSelector:
		returnInfo, stakes, decErr := coreabi.DecodeValidationResult(params)
		if decErr != nil {
			return nil, decErr
		}
		return &Outcome{
			ReturnInfo: returnInfo,
			Sender:     stakes[0],
			Factory:    stakes[1],
			Paymaster:  stakes[2],
		}, nil
	default:
		return nil, &bundlererrors.SimulateValidationErr{Reason: "unrecognized revert selector from simulateValidation"}
	}
}

// AssociatedAddresses returns the set of contract addresses this op's validation phase
// touches. With no Tracer configured it returns the three roles the protocol names
// explicitly (spec.md §4.2); with one configured, it unions in whatever the tracer
// discovers, deduplicated via a mapset.Set the same way the sibling fork's
// knownEntity/altMempool matching does.
func (m *Manager) AssociatedAddresses(ctx context.Context, op *userop.UserOperation) ([]common.Address, error) {
	set := mapset.NewSet[common.Address]()
	set.Add(op.Sender)
	if op.HasFactory() {
		set.Add(op.GetFactory())
	}
	if op.HasPaymaster() {
		set.Add(op.GetPaymaster())
	}

	if m.Tracer != nil {
		traced, err := m.Tracer.TraceAssociatedAddresses(ctx, m.entryPoint, op)
		if err != nil {
			return nil, err
		}
		for _, addr := range traced {
			set.Add(addr)
		}
	}

	out := set.ToSlice()
	sort.Slice(out, func(i, j int) bool { return string(out[i].Bytes()) < string(out[j].Bytes()) })
	return out, nil
}

// CodeHash computes keccak(concat(eth_getCode(a) for a in sorted addrs)), the pinned
// signature an op's mempool entry must keep matching, spec.md §4.2 I6/§3.
func (m *Manager) CodeHash(ctx context.Context, addrs []common.Address) (common.Hash, error) {
	sorted := append([]common.Address(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i].Bytes()) < string(sorted[j].Bytes()) })

	var concatenated []byte
	for _, addr := range sorted {
		code, err := m.rpc.GetCode(ctx, addr, nil)
		if err != nil {
			return common.Hash{}, err
		}
		concatenated = append(concatenated, code...)
	}
	return crypto.Keccak256Hash(concatenated), nil
}
