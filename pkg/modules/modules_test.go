package modules

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

func TestComposeUserOpHandlerFuncRunsInOrder(t *testing.T) {
	var order []string
	h1 := func(ctx *UserOpHandlerCtx) error {
		order = append(order, "h1")
		return nil
	}
	h2 := func(ctx *UserOpHandlerCtx) error {
		order = append(order, "h2")
		return nil
	}

	ctx := NewUserOpHandlerContext(&userop.UserOperation{}, common.Address{}, big.NewInt(1))
	err := ComposeUserOpHandlerFunc(h1, h2)(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, order)
}

func TestComposeUserOpHandlerFuncStopsAtFirstError(t *testing.T) {
	wantErr := errors.New("boom")
	var ran []string

	h1 := func(ctx *UserOpHandlerCtx) error {
		ran = append(ran, "h1")
		return wantErr
	}
	h2 := func(ctx *UserOpHandlerCtx) error {
		ran = append(ran, "h2")
		return nil
	}

	ctx := NewUserOpHandlerContext(&userop.UserOperation{}, common.Address{}, big.NewInt(1))
	err := ComposeUserOpHandlerFunc(h1, h2)(ctx)

	assert.Equal(t, wantErr, err)
	assert.Equal(t, []string{"h1"}, ran, "h2 must not run after h1 errors")
}

func TestNewUserOpHandlerContextInitializesData(t *testing.T) {
	op := &userop.UserOperation{}
	entryPoint := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	chainID := big.NewInt(5)

	ctx := NewUserOpHandlerContext(op, entryPoint, chainID)

	assert.Same(t, op, ctx.UserOp)
	assert.Equal(t, entryPoint, ctx.EntryPoint)
	assert.Equal(t, chainID, ctx.ChainID)
	assert.NotNil(t, ctx.Data)
	assert.Empty(t, ctx.Data)
}

func TestComposeBatchHandlerFuncRunsInOrder(t *testing.T) {
	var order []string
	h1 := func(ctx *BatchHandlerCtx) error {
		order = append(order, "h1")
		return nil
	}
	h2 := func(ctx *BatchHandlerCtx) error {
		order = append(order, "h2")
		return nil
	}

	ctx := NewBatchHandlerContext(nil, common.Address{}, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), common.Address{})
	err := ComposeBatchHandlerFunc(h1, h2)(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, order)
}

func TestComposeBatchHandlerFuncStopsAtFirstError(t *testing.T) {
	wantErr := errors.New("boom")
	var ran []string

	h1 := func(ctx *BatchHandlerCtx) error {
		ran = append(ran, "h1")
		return wantErr
	}
	h2 := func(ctx *BatchHandlerCtx) error {
		ran = append(ran, "h2")
		return nil
	}

	ctx := NewBatchHandlerContext(nil, common.Address{}, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), common.Address{})
	err := ComposeBatchHandlerFunc(h1, h2)(ctx)

	assert.Equal(t, wantErr, err)
	assert.Equal(t, []string{"h1"}, ran)
}

func makeBatch(n int) []*userop.UserOperation {
	batch := make([]*userop.UserOperation, n)
	for i := range batch {
		batch[i] = &userop.UserOperation{Nonce: big.NewInt(int64(i))}
	}
	return batch
}

func TestMarkOpIndexForRemovalAndPruneRemoved(t *testing.T) {
	batch := makeBatch(3)
	ctx := NewBatchHandlerContext(batch, common.Address{}, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), common.Address{})

	ctx.MarkOpIndexForRemoval(1)
	removed := ctx.PruneRemoved()

	require.Equal(t, 1, removed)
	require.Len(t, ctx.Batch, 2)
	assert.Equal(t, big.NewInt(0), ctx.Batch[0].Nonce)
	assert.Equal(t, big.NewInt(2), ctx.Batch[1].Nonce)
}

func TestPruneRemovedNoOpWhenNothingMarked(t *testing.T) {
	batch := makeBatch(2)
	ctx := NewBatchHandlerContext(batch, common.Address{}, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), common.Address{})

	removed := ctx.PruneRemoved()

	assert.Equal(t, 0, removed)
	assert.Len(t, ctx.Batch, 2)
}

func TestPruneRemovedResetsFlagsForSubsequentCalls(t *testing.T) {
	batch := makeBatch(3)
	ctx := NewBatchHandlerContext(batch, common.Address{}, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), common.Address{})

	ctx.MarkOpIndexForRemoval(0)
	require.Equal(t, 1, ctx.PruneRemoved())
	require.Len(t, ctx.Batch, 2)

	// Marking the new index 0 (old index 1) should only remove that one op, proving
	// the removedOpIndexes set was cleared after the first prune.
	ctx.MarkOpIndexForRemoval(0)
	removed := ctx.PruneRemoved()

	assert.Equal(t, 1, removed)
	assert.Len(t, ctx.Batch, 1)
	assert.Equal(t, big.NewInt(2), ctx.Batch[0].Nonce)
}
