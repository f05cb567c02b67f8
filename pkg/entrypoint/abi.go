package entrypoint

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// userOperationTupleType is the canonical tuple shape of the EntryPoint v0.6
// UserOperation struct, reused by every entry point below.
const userOperationTupleType = `{
	"components": [
		{"name": "sender", "type": "address"},
		{"name": "nonce", "type": "uint256"},
		{"name": "initCode", "type": "bytes"},
		{"name": "callData", "type": "bytes"},
		{"name": "callGasLimit", "type": "uint256"},
		{"name": "verificationGasLimit", "type": "uint256"},
		{"name": "preVerificationGas", "type": "uint256"},
		{"name": "maxFeePerGas", "type": "uint256"},
		{"name": "maxPriorityFeePerGas", "type": "uint256"},
		{"name": "paymasterAndData", "type": "bytes"},
		{"name": "signature", "type": "bytes"}
	],
	"name": "userOp",
	"type": "tuple"
}`

// entryPointABIJSON is the subset of the EntryPoint v0.6 ABI this core calls against:
// simulateValidation, simulateHandleOp, handleOps, and the structured revert types
// FailedOp/ValidationResult/ExecutionResult. Transcribed from the public EntryPoint ABI,
// trimmed to what spec.md §4.1/§6 names.
var entryPointABIJSON = `[
	{
		"inputs": [` + userOperationTupleType + `],
		"name": "simulateValidation",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			` + userOperationTupleType + `,
			{"name": "target", "type": "address"},
			{"name": "targetCallData", "type": "bytes"}
		],
		"name": "simulateHandleOp",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "ops", "type": "tuple[]", "components": [
				{"name": "sender", "type": "address"},
				{"name": "nonce", "type": "uint256"},
				{"name": "initCode", "type": "bytes"},
				{"name": "callData", "type": "bytes"},
				{"name": "callGasLimit", "type": "uint256"},
				{"name": "verificationGasLimit", "type": "uint256"},
				{"name": "preVerificationGas", "type": "uint256"},
				{"name": "maxFeePerGas", "type": "uint256"},
				{"name": "maxPriorityFeePerGas", "type": "uint256"},
				{"name": "paymasterAndData", "type": "bytes"},
				{"name": "signature", "type": "bytes"}
			]},
			{"name": "beneficiary", "type": "address"}
		],
		"name": "handleOps",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "opIndex", "type": "uint256"},
			{"name": "paymaster", "type": "address"},
			{"name": "reason", "type": "string"}
		],
		"name": "FailedOp",
		"type": "error"
	},
	{
		"inputs": [
			{"name": "returnInfo", "type": "tuple", "components": [
				{"name": "preOpGas", "type": "uint256"},
				{"name": "prefund", "type": "uint256"},
				{"name": "sigFailed", "type": "bool"},
				{"name": "validAfter", "type": "uint64"},
				{"name": "validUntil", "type": "uint64"},
				{"name": "paymasterContext", "type": "bytes"}
			]},
			{"name": "senderInfo", "type": "tuple", "components": [
				{"name": "stake", "type": "uint256"},
				{"name": "unstakeDelaySec", "type": "uint256"}
			]},
			{"name": "factoryInfo", "type": "tuple", "components": [
				{"name": "stake", "type": "uint256"},
				{"name": "unstakeDelaySec", "type": "uint256"}
			]},
			{"name": "paymasterInfo", "type": "tuple", "components": [
				{"name": "stake", "type": "uint256"},
				{"name": "unstakeDelaySec", "type": "uint256"}
			]}
		],
		"name": "ValidationResult",
		"type": "error"
	},
	{
		"inputs": [
			{"name": "preOpGas", "type": "uint256"},
			{"name": "paid", "type": "uint256"},
			{"name": "targetSuccess", "type": "bool"},
			{"name": "targetResult", "type": "bytes"}
		],
		"name": "ExecutionResult",
		"type": "error"
	},
	{
		"inputs": [{"name": "message", "type": "string"}],
		"name": "Error",
		"type": "error"
	}
]`

// ABI is the parsed EntryPoint v0.6 ABI fragment, ready for (Un)Pack calls.
var ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(entryPointABIJSON))
	if err != nil {
		panic("entrypoint: invalid embedded ABI fragment: " + err.Error())
	}
	ABI = parsed
}
