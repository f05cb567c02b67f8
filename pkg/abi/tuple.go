package abi

import (
	"math/big"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// entryPointABI is the parsed EntryPoint ABI fragment this package encodes/decodes
// against.
var entryPointABI = entrypoint.ABI

type opTuple struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

func toOpTuple(op *userop.UserOperation) opTuple {
	return opTuple{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		MaxFeePerGas:         op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

// EncodeSimulateValidationCalldata builds simulateValidation(UserOperation) calldata,
// spec.md §4.2.
func EncodeSimulateValidationCalldata(op *userop.UserOperation) ([]byte, error) {
	method := entryPointABI.Methods["simulateValidation"]
	packed, err := method.Inputs.Pack(toOpTuple(op))
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}

// EncodeSimulateHandleOpCalldata builds simulateHandleOp(UserOperation,address,bytes)
// calldata, spec.md §4.3.2/§4.3.4.
func EncodeSimulateHandleOpCalldata(op *userop.UserOperation, target common.Address, targetCallData []byte) ([]byte, error) {
	method := entryPointABI.Methods["simulateHandleOp"]
	packed, err := method.Inputs.Pack(toOpTuple(op), target, targetCallData)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}

var (
	addressType, _ = gethabi.NewType("address", "", nil)
	bytesType, _   = gethabi.NewType("bytes", "", nil)
	boolType, _    = gethabi.NewType("bool", "", nil)
	uint256Type, _ = gethabi.NewType("uint256", "", nil)
)

// EncodeTestCallGasCalldata builds the GasHelper's
// testCallGas(address,bytes,bytes,uint256) calldata used by the call-gas binary
// search, spec.md §4.3.2.
func EncodeTestCallGasCalldata(sender common.Address, initCode, callData []byte, callGasLimit *big.Int) ([]byte, error) {
	args := gethabi.Arguments{{Type: addressType}, {Type: bytesType}, {Type: bytesType}, {Type: uint256Type}}
	packed, err := args.Pack(sender, initCode, callData, callGasLimit)
	if err != nil {
		return nil, err
	}
	sel := entrypoint.TestCallGasSelector
	return append(append([]byte{}, sel[:]...), packed...), nil
}

// DecodeTestCallGasResult decodes the GasHelper's (bool,uint256,bytes) return value.
func DecodeTestCallGasResult(data []byte) (success bool, gasUsed *big.Int, resultData []byte, err error) {
	args := gethabi.Arguments{{Type: boolType}, {Type: uint256Type}, {Type: bytesType}}
	values, unpackErr := args.Unpack(data)
	if unpackErr != nil {
		return false, nil, nil, unpackErr
	}
	return values[0].(bool), values[1].(*big.Int), values[2].([]byte), nil
}

// EncodeGetL1FeeCalldata builds the Optimism gas oracle's getL1Fee(bytes) calldata.
func EncodeGetL1FeeCalldata(handleOpsCalldata []byte) ([]byte, error) {
	args := gethabi.Arguments{{Type: bytesType}}
	packed, err := args.Pack(handleOpsCalldata)
	if err != nil {
		return nil, err
	}
	sel := entrypoint.GetL1FeeSelector
	return append(append([]byte{}, sel[:]...), packed...), nil
}

// EncodeGasEstimateL1ComponentCalldata builds the Arbitrum NodeInterface's
// gasEstimateL1Component(address,bool,bytes) calldata.
func EncodeGasEstimateL1ComponentCalldata(to common.Address, isInit bool, data []byte) ([]byte, error) {
	args := gethabi.Arguments{{Type: addressType}, {Type: boolType}, {Type: bytesType}}
	packed, err := args.Pack(to, isInit, data)
	if err != nil {
		return nil, err
	}
	sel := entrypoint.GasEstimateL1ComponentSelector
	return append(append([]byte{}, sel[:]...), packed...), nil
}

// DecodeUint256 decodes a single uint256 return value, used for getL1Fee and
// gasEstimateL1Component's first return slot.
func DecodeUint256(data []byte) (*big.Int, error) {
	args := gethabi.Arguments{{Type: uint256Type}}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}
