// Package userop defines the canonical UserOperation model: the ERC-4337
// pseudo-transaction the rest of the core validates, estimates gas for, and bundles.
package userop

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
)

// UserOperation is the canonical representation described in spec.md §3. It is
// immutable once admitted to the mempool except for the gas-estimate fields, which are
// mutated in place during pre-admission estimation (GasManager.EstimateAll writes them
// into the op it is given; callers that need the original must Clone() first).
type UserOperation struct {
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

	// AssociatedAddresses is the set of contract addresses observed during
	// validation (sender, factory, paymaster by default; a trace-based
	// ValidationManager may record more). Populated on successful simulation.
	AssociatedAddresses []common.Address `json:"-"`
	// CodeHash is pinned at admission time over AssociatedAddresses, spec.md §3 I6.
	CodeHash common.Hash `json:"-"`
}

// FromMap decodes the loosely-typed JSON-RPC params map eth_sendUserOperation and
// eth_estimateUserOperationGas receive into a UserOperation. Every field is expected as
// a "0x"-prefixed hex string (hexutil convention), matching how go-ethereum's own RPC
// method signatures accept hexutil.Big/hexutil.Bytes arguments.
func FromMap(m map[string]any) (*UserOperation, error) {
	str := func(key string) (string, error) {
		v, ok := m[key].(string)
		if !ok {
			return "", &bundlererrors.InvalidFields{Reason: key + ": missing or not a string"}
		}
		return v, nil
	}
	bytesField := func(key string) ([]byte, error) {
		v, err := str(key)
		if err != nil {
			return nil, err
		}
		b, err := hexutil.Decode(v)
		if err != nil {
			return nil, &bundlererrors.InvalidFields{Reason: key + ": " + err.Error()}
		}
		return b, nil
	}
	bigField := func(key string) (*big.Int, error) {
		v, err := str(key)
		if err != nil {
			return nil, err
		}
		b, ok := new(big.Int).SetString(trimHexPrefix(v), 16)
		if !ok {
			return nil, &bundlererrors.InvalidFields{Reason: key + ": invalid hex integer"}
		}
		return b, nil
	}

	sender, err := str("sender")
	if err != nil {
		return nil, err
	}
	nonce, err := bigField("nonce")
	if err != nil {
		return nil, err
	}
	initCode, err := bytesField("initCode")
	if err != nil {
		return nil, err
	}
	callData, err := bytesField("callData")
	if err != nil {
		return nil, err
	}
	callGasLimit, err := bigField("callGasLimit")
	if err != nil {
		return nil, err
	}
	verificationGasLimit, err := bigField("verificationGasLimit")
	if err != nil {
		return nil, err
	}
	preVerificationGas, err := bigField("preVerificationGas")
	if err != nil {
		return nil, err
	}
	maxFeePerGas, err := bigField("maxFeePerGas")
	if err != nil {
		return nil, err
	}
	maxPriorityFeePerGas, err := bigField("maxPriorityFeePerGas")
	if err != nil {
		return nil, err
	}
	paymasterAndData, err := bytesField("paymasterAndData")
	if err != nil {
		return nil, err
	}
	signature, err := bytesField("signature")
	if err != nil {
		return nil, err
	}

	return &UserOperation{
		Sender:               common.HexToAddress(sender),
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         callGasLimit,
		VerificationGasLimit: verificationGasLimit,
		PreVerificationGas:   preVerificationGas,
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		PaymasterAndData:     paymasterAndData,
		Signature:            signature,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// uint256Type is the ABI uint256 type shared by packForHash and GetUserOpHash.
var uint256Type, _ = abi.NewType("uint256", "", nil)

// GetFactory returns the first 20 bytes of InitCode, or the zero address if InitCode is
// empty, spec.md §3 "factory_address".
func (op *UserOperation) GetFactory() common.Address {
	if len(op.InitCode) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(op.InitCode[:20])
}

// GetPaymaster returns the first 20 bytes of PaymasterAndData, or the zero address if
// PaymasterAndData is empty, spec.md §3 "paymaster_address".
func (op *UserOperation) GetPaymaster() common.Address {
	if len(op.PaymasterAndData) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:20])
}

// HasPaymaster reports whether the op names a paymaster.
func (op *UserOperation) HasPaymaster() bool {
	return len(op.PaymasterAndData) >= 20
}

// HasFactory reports whether the op names a factory (i.e. deploys an account).
func (op *UserOperation) HasFactory() bool {
	return len(op.InitCode) >= 20
}

// Clone returns a deep copy suitable for mutation during gas estimation, so the
// original op handed to the caller is never mutated in place (spec.md §3: "immutable
// once admitted except for the gas fields during pre-admission estimation").
func (op *UserOperation) Clone() *UserOperation {
	clone := *op
	clone.Nonce = new(big.Int).Set(op.Nonce)
	clone.CallGasLimit = new(big.Int).Set(op.CallGasLimit)
	clone.VerificationGasLimit = new(big.Int).Set(op.VerificationGasLimit)
	clone.PreVerificationGas = new(big.Int).Set(op.PreVerificationGas)
	clone.MaxFeePerGas = new(big.Int).Set(op.MaxFeePerGas)
	clone.MaxPriorityFeePerGas = new(big.Int).Set(op.MaxPriorityFeePerGas)
	clone.InitCode = append([]byte(nil), op.InitCode...)
	clone.CallData = append([]byte(nil), op.CallData...)
	clone.PaymasterAndData = append([]byte(nil), op.PaymasterAndData...)
	clone.Signature = append([]byte(nil), op.Signature...)
	clone.AssociatedAddresses = append([]common.Address(nil), op.AssociatedAddresses...)
	return &clone
}

// tuple returns the eleven-field tuple in EntryPoint struct order, for both packing and
// ABI encoding call sites.
func (op *UserOperation) tuple() []interface{} {
	return []interface{}{
		op.Sender,
		op.Nonce,
		op.InitCode,
		op.CallData,
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PreVerificationGas,
		op.MaxFeePerGas,
		op.MaxPriorityFeePerGas,
		op.PaymasterAndData,
		op.Signature,
	}
}

// Pack returns the ABI-encoded tuple of the op exactly as it would be serialized inside
// a handleOps() calldata blob. GasManager.CalcPreVerificationGas (spec.md §4.3.1 step
// (b)) does not call it: it packs its own dummy-op argument list.
func (op *UserOperation) Pack(args abi.Arguments) ([]byte, error) {
	return args.Pack(op.tuple()...)
}

// packForHash returns abi.encode(sender, nonce, keccak(initCode), keccak(callData),
// callGasLimit, verificationGasLimit, preVerificationGas, maxFeePerGas,
// maxPriorityFeePerGas, keccak(paymasterAndData)) — the EIP-712-like pre-image hashed
// by GetUserOpHash. The signature is deliberately excluded.
func (op *UserOperation) packForHash() []byte {
	addrTy, _ := abi.NewType("address", "", nil)
	bytes32Ty, _ := abi.NewType("bytes32", "", nil)
	args := abi.Arguments{
		{Type: addrTy}, {Type: uint256Type}, {Type: bytes32Ty}, {Type: bytes32Ty},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
		{Type: uint256Type}, {Type: uint256Type}, {Type: bytes32Ty},
	}
	packed, err := args.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PreVerificationGas,
		op.MaxFeePerGas,
		op.MaxPriorityFeePerGas,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		// All field types are fixed and non-erroring for well-formed *big.Int and
		// []byte values; this would only fail on a nil big.Int, a programmer error.
		panic("userop: packForHash: " + err.Error())
	}
	return packed
}

// GetUserOpHash returns the EIP-712-like hash over the canonical encoding plus the
// EntryPoint address and chain id, spec.md §3 "user_operation_hash". Stable for the
// life of the op once computed (I6), so callers should compute it once at admission
// and treat it as immutable.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	opHash := crypto.Keccak256Hash(op.packForHash())

	addrTy, _ := abi.NewType("address", "", nil)
	bytes32Ty, _ := abi.NewType("bytes32", "", nil)
	args := abi.Arguments{{Type: bytes32Ty}, {Type: addrTy}, {Type: uint256Type}}
	packed, err := args.Pack(opHash, entryPoint, chainID)
	if err != nil {
		panic("userop: GetUserOpHash: " + err.Error())
	}
	return crypto.Keccak256Hash(packed)
}

// CallDataCost returns the ABI-encoding gas cost of b using EntryPoint's zero/non-zero
// byte weights (spec.md §4.3.1 step (c) and §4.3.2's call-data-cost subtraction).
func CallDataCost(b []byte, zeroByteGas, nonZeroByteGas int64) *big.Int {
	var zero, nonZero int64
	for _, c := range b {
		if c == 0 {
			zero++
		} else {
			nonZero++
		}
	}
	cost := zero*zeroByteGas + nonZero*nonZeroByteGas
	return big.NewInt(cost)
}

// SortedAssociatedAddresses returns a copy of AssociatedAddresses sorted by byte value,
// the order CodeHash is computed over (spec.md §4.2 "code_hash = keccak(concat(... for
// a in sorted addresses))").
func (op *UserOperation) SortedAssociatedAddresses() []common.Address {
	out := append([]common.Address(nil), op.AssociatedAddresses...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Bytes()) < string(out[j].Bytes())
	})
	return out
}

// Validate checks the invariants of spec.md §3 that do not require an RPC round trip:
// I1 (non-zero sender), I2 (initCode prefix), I3 (paymasterAndData prefix), I4 (gas
// caps: verificationGasLimit against the caller-supplied limit, callGasLimit against
// entrypoint.MaxCallGasLimit).
func (op *UserOperation) Validate(maxVerificationGas *big.Int) error {
	if op.Sender == (common.Address{}) {
		return &bundlererrors.InvalidFields{Reason: "sender: must be non-zero"}
	}
	if len(op.InitCode) > 0 && len(op.InitCode) < 20 {
		return &bundlererrors.InvalidFields{Reason: "initCode: shorter than a factory address"}
	}
	if len(op.PaymasterAndData) > 0 && len(op.PaymasterAndData) < 20 {
		return &bundlererrors.InvalidFields{Reason: "paymasterAndData: shorter than a paymaster address"}
	}
	if op.VerificationGasLimit.Cmp(maxVerificationGas) > 0 {
		return &bundlererrors.InvalidFields{Reason: "verificationGasLimit: exceeds maxVerificationGas"}
	}
	if op.CallGasLimit.Cmp(big.NewInt(entrypoint.MaxCallGasLimit)) > 0 {
		return &bundlererrors.InvalidFields{Reason: "callGasLimit: exceeds MaxCallGasLimit"}
	}
	return nil
}
