// Package abi implements AbiCodec: encoding/decoding of EntryPoint structs, handleOps
// calldata, and the structured revert payloads simulateValidation/simulateHandleOp
// produce. Built directly on go-ethereum's accounts/abi package, spec.md §4.1.
package abi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// ReturnInfo is the decoded first element of a ValidationResult revert, spec.md §3.
type ReturnInfo struct {
	PreOpGas   *big.Int
	Prefund    *big.Int
	SigFailed  bool
	ValidAfter uint64
	ValidUntil uint64
}

// StakeInfo is the decoded stake/unstakeDelaySec pair for a single role (sender,
// factory, or paymaster), spec.md §3.
type StakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

// minSelectorLen is the length of a 4-byte function/error selector.
const minSelectorLen = 4

func selectorOf(data []byte) ([4]byte, []byte, error) {
	if len(data) < minSelectorLen {
		return [4]byte{}, nil, &bundlererrors.DecodeError{Context: "payload shorter than a 4-byte selector"}
	}
	var sel [4]byte
	copy(sel[:], data[:minSelectorLen])
	return sel, data[minSelectorLen:], nil
}

// SelectorOf exposes selectorOf for callers (e.g. ValidationManager) that need to
// dispatch on the 4-byte selector before picking a decode function.
func SelectorOf(data []byte) ([4]byte, []byte, error) {
	return selectorOf(data)
}

// DecodeFailedOp decodes a FailedOp(uint256,address,string) revert payload (selector
// already stripped), spec.md §4.1.
func DecodeFailedOp(params []byte) (opIndex *big.Int, paymaster common.Address, reason string, err error) {
	errABI, ok := entryPointABI.Errors["FailedOp"]
	if !ok {
		return nil, common.Address{}, "", &bundlererrors.DecodeError{Context: "FailedOp not in ABI"}
	}
	values, unpackErr := errABI.Inputs.Unpack(params)
	if unpackErr != nil {
		return nil, common.Address{}, "", &bundlererrors.DecodeError{Context: "FailedOp: " + unpackErr.Error()}
	}
	if len(values) != 3 {
		return nil, common.Address{}, "", &bundlererrors.DecodeError{Context: "FailedOp: unexpected field count"}
	}
	opIndex = values[0].(*big.Int)
	paymaster = values[1].(common.Address)
	reason = values[2].(string)
	return opIndex, paymaster, reason, nil
}

// DecodeValidationResult decodes a ValidationResult(...) revert payload (selector
// already stripped) into a ReturnInfo and the three StakeInfo tuples (sender, factory,
// paymaster order), spec.md §4.1.
func DecodeValidationResult(params []byte) (*ReturnInfo, [3]*StakeInfo, error) {
	var stakes [3]*StakeInfo
	errABI, ok := entryPointABI.Errors["ValidationResult"]
	if !ok {
		return nil, stakes, &bundlererrors.DecodeError{Context: "ValidationResult not in ABI"}
	}
	values, err := errABI.Inputs.Unpack(params)
	if err != nil {
		return nil, stakes, &bundlererrors.DecodeError{Context: "ValidationResult: " + err.Error()}
	}
	if len(values) != 4 {
		return nil, stakes, &bundlererrors.DecodeError{Context: "ValidationResult: unexpected field count"}
	}

	riRaw := values[0].(struct {
		PreOpGas         *big.Int `json:"preOpGas"`
		Prefund          *big.Int `json:"prefund"`
		SigFailed        bool     `json:"sigFailed"`
		ValidAfter       uint64   `json:"validAfter"`
		ValidUntil       uint64   `json:"validUntil"`
		PaymasterContext []byte   `json:"paymasterContext"`
	})
	returnInfo := &ReturnInfo{
		PreOpGas:   riRaw.PreOpGas,
		Prefund:    riRaw.Prefund,
		SigFailed:  riRaw.SigFailed,
		ValidAfter: riRaw.ValidAfter,
		ValidUntil: riRaw.ValidUntil,
	}

	for i, v := range values[1:] {
		siRaw := v.(struct {
			Stake           *big.Int `json:"stake"`
			UnstakeDelaySec *big.Int `json:"unstakeDelaySec"`
		})
		stakes[i] = &StakeInfo{Stake: siRaw.Stake, UnstakeDelaySec: siRaw.UnstakeDelaySec}
	}

	return returnInfo, stakes, nil
}

// DecodeExecutionResult decodes an ExecutionResult(uint256,uint256,bool,bytes) revert
// payload (selector already stripped), spec.md §4.1.
func DecodeExecutionResult(params []byte) (preOpGas, paid *big.Int, targetSuccess bool, targetResult []byte, err error) {
	errABI, ok := entryPointABI.Errors["ExecutionResult"]
	if !ok {
		return nil, nil, false, nil, &bundlererrors.DecodeError{Context: "ExecutionResult not in ABI"}
	}
	values, unpackErr := errABI.Inputs.Unpack(params)
	if unpackErr != nil {
		return nil, nil, false, nil, &bundlererrors.DecodeError{Context: "ExecutionResult: " + unpackErr.Error()}
	}
	if len(values) != 4 {
		return nil, nil, false, nil, &bundlererrors.DecodeError{Context: "ExecutionResult: unexpected field count"}
	}
	preOpGas = values[0].(*big.Int)
	paid = values[1].(*big.Int)
	targetSuccess = values[2].(bool)
	targetResult = values[3].([]byte)
	return preOpGas, paid, targetSuccess, targetResult, nil
}

// DecodeErrorString decodes a standard Solidity Error(string) revert payload (selector
// already stripped).
func DecodeErrorString(params []byte) (string, error) {
	errABI, ok := entryPointABI.Errors["Error"]
	if !ok {
		return "", &bundlererrors.DecodeError{Context: "Error(string) not in ABI"}
	}
	values, err := errABI.Inputs.Unpack(params)
	if err != nil {
		return "", &bundlererrors.DecodeError{Context: "Error(string): " + err.Error()}
	}
	return values[0].(string), nil
}

// EncodeHandleOpsCalldata builds the handleOps(UserOperation[],address) calldata for a
// batch of ops, spec.md §4.1.
func EncodeHandleOpsCalldata(ops []*userop.UserOperation, beneficiary common.Address) ([]byte, error) {
	method, ok := entryPointABI.Methods["handleOps"]
	if !ok {
		return nil, &bundlererrors.DecodeError{Context: "handleOps not in ABI"}
	}

	tuples := make([]opTuple, len(ops))
	for i, op := range ops {
		tuples[i] = toOpTuple(op)
	}

	packed, err := method.Inputs.Pack(tuples, beneficiary)
	if err != nil {
		return nil, &bundlererrors.DecodeError{Context: "handleOps: " + err.Error()}
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}
