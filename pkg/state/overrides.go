// Package state implements the typed StateOverrides map used to simulate calls against
// modified chain state, spec.md §4.3.5 and §9 "Dynamic configuration objects".
package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
)

// Override is the per-address override applied by eth_call's state override set.
type Override struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	Code      hexutil.Bytes               `json:"code,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

// Overrides is a map from address to Override. Merging two Overrides sets is
// right-biased per address, with stateDiff sub-maps unioned (right wins on key
// collision), per spec.md §9.
type Overrides map[common.Address]*Override

// Merge returns a new Overrides with other applied on top of o. Neither input is
// mutated.
func Merge(o, other Overrides) Overrides {
	out := make(Overrides, len(o)+len(other))
	for addr, ov := range o {
		out[addr] = cloneOverride(ov)
	}
	for addr, ov := range other {
		if existing, ok := out[addr]; ok {
			out[addr] = mergeOverride(existing, ov)
		} else {
			out[addr] = cloneOverride(ov)
		}
	}
	return out
}

func cloneOverride(ov *Override) *Override {
	if ov == nil {
		return nil
	}
	clone := &Override{Balance: ov.Balance, Code: append(hexutil.Bytes(nil), ov.Code...)}
	if ov.StateDiff != nil {
		clone.StateDiff = make(map[common.Hash]common.Hash, len(ov.StateDiff))
		for k, v := range ov.StateDiff {
			clone.StateDiff[k] = v
		}
	}
	return clone
}

func mergeOverride(base, top *Override) *Override {
	merged := cloneOverride(base)
	if top.Balance != nil {
		merged.Balance = top.Balance
	}
	if len(top.Code) > 0 {
		merged.Code = append(hexutil.Bytes(nil), top.Code...)
	}
	for k, v := range top.StateDiff {
		if merged.StateDiff == nil {
			merged.StateDiff = make(map[common.Hash]common.Hash)
		}
		merged.StateDiff[k] = v
	}
	return merged
}

// WithMaxBalanceOverride returns a copy of o with addr's balance overridden to
// ZeroAddressBalanceOverride (10^15 ETH), spec.md §4.3.5.
func WithMaxBalanceOverride(addr common.Address, o Overrides) Overrides {
	balance, _ := new(big.Int).SetString(entrypoint.ZeroAddressBalanceOverride[2:], 16)
	out := Merge(o, Overrides{addr: {Balance: (*hexutil.Big)(balance)}})
	return out
}

// WithDepositSlotOverride returns a copy of o with the EntryPoint's deposit slot for
// beneficiary set to the max balance override, spec.md §4.3.5 "set the deposit slot on
// the EntryPoint contract for either the sender ... or the paymaster".
func WithDepositSlotOverride(entryPoint, beneficiary common.Address, o Overrides) Overrides {
	slot := DepositSlotIndex(beneficiary)
	balance, _ := new(big.Int).SetString(entrypoint.ZeroAddressBalanceOverride[2:], 16)
	var padded common.Hash
	balance.FillBytes(padded[:])
	return Merge(o, Overrides{entryPoint: {StateDiff: map[common.Hash]common.Hash{slot: padded}}})
}

// WithGasHelperOverride returns a copy of o that replaces the EntryPoint's code with the
// GasHelper bytecode used by the call-gas binary search, spec.md §6. This is purely an
// eth_call simulation override; it never touches chain state.
func WithGasHelperOverride(entryPoint common.Address, o Overrides) Overrides {
	return Merge(o, Overrides{entryPoint: {Code: hexutil.MustDecode(entrypoint.GasHelperBytecode)}})
}

var uint256Type, _ = abi.NewType("uint256", "", nil)

// DepositSlotIndex computes keccak256(abi.encode(uint256(address), uint256(0))), the
// EntryPoint deposit-mapping slot for addr (deposits live at slot 0), spec.md §4.3.5.
func DepositSlotIndex(addr common.Address) common.Hash {
	args := abi.Arguments{{Type: uint256Type}, {Type: uint256Type}}
	addrAsInt := new(big.Int).SetBytes(addr.Bytes())
	packed, err := args.Pack(addrAsInt, big.NewInt(0))
	if err != nil {
		panic("state: DepositSlotIndex: " + err.Error())
	}
	return crypto.Keccak256Hash(packed)
}
