package abi

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// bigIntComparer lets cmp.Diff compare *big.Int by value instead of panicking on its
// unexported fields, the same way the teacher's tests lean on testify's value-aware
// assert.Equal for *big.Int.
var bigIntComparer = cmp.Comparer(func(x, y *big.Int) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.Cmp(y) == 0
})

func packValidationResult(t *testing.T, ri struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       uint64
	ValidUntil       uint64
	PaymasterContext []byte
}, sender, factory, paymaster struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}) []byte {
	errABI, ok := entryPointABI.Errors["ValidationResult"]
	require.True(t, ok)
	packed, err := errABI.Inputs.Pack(ri, sender, factory, paymaster)
	require.NoError(t, err)
	return packed
}

func TestDecodeValidationResultRoundTrip(t *testing.T) {
	ri := struct {
		PreOpGas         *big.Int
		Prefund          *big.Int
		SigFailed        bool
		ValidAfter       uint64
		ValidUntil       uint64
		PaymasterContext []byte
	}{
		PreOpGas:         big.NewInt(50_000),
		Prefund:          big.NewInt(1_000_000_000_000_000),
		SigFailed:        false,
		ValidAfter:       100,
		ValidUntil:       200,
		PaymasterContext: []byte{},
	}
	stakeType := struct {
		Stake           *big.Int
		UnstakeDelaySec *big.Int
	}{Stake: big.NewInt(1), UnstakeDelaySec: big.NewInt(86400)}

	packed := packValidationResult(t, ri, stakeType, stakeType, stakeType)

	gotReturnInfo, gotStakes, err := DecodeValidationResult(packed)
	require.NoError(t, err)

	wantReturnInfo := &ReturnInfo{
		PreOpGas:   big.NewInt(50_000),
		Prefund:    big.NewInt(1_000_000_000_000_000),
		SigFailed:  false,
		ValidAfter: 100,
		ValidUntil: 200,
	}
	if diff := cmp.Diff(wantReturnInfo, gotReturnInfo, bigIntComparer); diff != "" {
		t.Errorf("ReturnInfo mismatch (-want +got):\n%s", diff)
	}

	wantStake := &StakeInfo{Stake: big.NewInt(1), UnstakeDelaySec: big.NewInt(86400)}
	for i, got := range gotStakes {
		if diff := cmp.Diff(wantStake, got, bigIntComparer); diff != "" {
			t.Errorf("StakeInfo[%d] mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDecodeFailedOpRoundTrip(t *testing.T) {
	errABI, ok := entryPointABI.Errors["FailedOp"]
	require.True(t, ok)

	paymaster := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	packed, err := errABI.Inputs.Pack(big.NewInt(2), paymaster, "AA21 didn't pay prefund")
	require.NoError(t, err)

	opIndex, gotPaymaster, reason, err := DecodeFailedOp(packed)
	require.NoError(t, err)

	if diff := cmp.Diff(big.NewInt(2), opIndex, bigIntComparer); diff != "" {
		t.Errorf("opIndex mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, paymaster, gotPaymaster)
	require.Equal(t, "AA21 didn't pay prefund", reason)
}

func TestDecodeExecutionResultRoundTrip(t *testing.T) {
	errABI, ok := entryPointABI.Errors["ExecutionResult"]
	require.True(t, ok)

	packed, err := errABI.Inputs.Pack(big.NewInt(21_000), big.NewInt(500_000), true, []byte{0x01, 0x02})
	require.NoError(t, err)

	preOpGas, paid, targetSuccess, targetResult, err := DecodeExecutionResult(packed)
	require.NoError(t, err)

	if diff := cmp.Diff(big.NewInt(21_000), preOpGas, bigIntComparer); diff != "" {
		t.Errorf("preOpGas mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(big.NewInt(500_000), paid, bigIntComparer); diff != "" {
		t.Errorf("paid mismatch (-want +got):\n%s", diff)
	}
	require.True(t, targetSuccess)
	require.Equal(t, []byte{0x01, 0x02}, targetResult)
}

func TestSelectorOfRejectsShortPayload(t *testing.T) {
	_, _, err := SelectorOf([]byte{0x01, 0x02})
	require.Error(t, err)
}
