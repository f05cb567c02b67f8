package noop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
)

func TestUserOpHandlerAlwaysAccepts(t *testing.T) {
	ctx := modules.NewUserOpHandlerContext(nil, common.Address{}, big.NewInt(1))
	assert.NoError(t, UserOpHandler(ctx))
}

func TestBatchHandlerIsANoOp(t *testing.T) {
	ctx := modules.NewBatchHandlerContext(nil, common.Address{}, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), common.Address{})
	assert.NoError(t, BatchHandler(ctx))
	assert.Nil(t, ctx.Batch)
}
