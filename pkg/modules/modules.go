// Package modules defines the handler-chain types the Client and Bundler mediators use
// to let callers extend processing with additional checks or actions, following the
// teacher's call-site convention (pkg/modules/checks, pkg/modules/relay import this
// package; the retrieval pack never included pkg/modules/modules.go itself, so it is
// rebuilt here from those call sites).
package modules

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// UserOpHandlerCtx is passed through the UserOpHandlerFunc chain invoked on admission,
// spec.md §4.5's validation step plus the static field checks that run ahead of it.
type UserOpHandlerCtx struct {
	UserOp     *userop.UserOperation
	EntryPoint common.Address
	ChainID    *big.Int

	// Data carries arbitrary values a handler wants to hand off to a later handler or
	// to the caller, matching the teacher's ctx.Data["..."] convention.
	Data map[string]any
}

// NewUserOpHandlerContext constructs a UserOpHandlerCtx for a single admission.
func NewUserOpHandlerContext(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) *UserOpHandlerCtx {
	return &UserOpHandlerCtx{UserOp: op, EntryPoint: entryPoint, ChainID: chainID, Data: make(map[string]any)}
}

// UserOpHandlerFunc is a single link in the admission handler chain.
type UserOpHandlerFunc func(ctx *UserOpHandlerCtx) error

// ComposeUserOpHandlerFunc runs handlers in order, stopping at the first error.
func ComposeUserOpHandlerFunc(handlers ...UserOpHandlerFunc) UserOpHandlerFunc {
	return func(ctx *UserOpHandlerCtx) error {
		for _, h := range handlers {
			if err := h(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// BatchHandlerCtx is passed through the BatchHandlerFunc chain invoked on bundling,
// spec.md §4.5's get_bundle() plus any relaying that follows it.
type BatchHandlerCtx struct {
	Batch       []*userop.UserOperation
	EntryPoint  common.Address
	ChainID     *big.Int
	Beneficiary common.Address
	BaseFee     *big.Int
	Tip         *big.Int
	GasPrice    *big.Int

	// removedOpIndexes marks ops that a handler decided must not be relayed, e.g. on an
	// unexpected handleOps() revert attributable to a specific op.
	removedOpIndexes map[int]bool

	Data map[string]any
}

// NewBatchHandlerContext constructs a BatchHandlerCtx for a single bundle.
func NewBatchHandlerContext(batch []*userop.UserOperation, entryPoint common.Address, chainID, baseFee, tip, gasPrice *big.Int, beneficiary common.Address) *BatchHandlerCtx {
	return &BatchHandlerCtx{
		Batch:            batch,
		EntryPoint:       entryPoint,
		ChainID:          chainID,
		Beneficiary:      beneficiary,
		BaseFee:          baseFee,
		Tip:              tip,
		GasPrice:         gasPrice,
		removedOpIndexes: make(map[int]bool),
		Data:             make(map[string]any),
	}
}

// MarkOpIndexForRemoval flags ctx.Batch[index] to be dropped before the next relay
// attempt, matching the teacher relay module's revert-attributed-op-removal pattern.
func (ctx *BatchHandlerCtx) MarkOpIndexForRemoval(index int) {
	ctx.removedOpIndexes[index] = true
}

// PruneRemoved drops every op previously flagged via MarkOpIndexForRemoval from
// ctx.Batch and resets the flag set, returning the number of ops removed.
func (ctx *BatchHandlerCtx) PruneRemoved() int {
	if len(ctx.removedOpIndexes) == 0 {
		return 0
	}
	kept := ctx.Batch[:0]
	for i, op := range ctx.Batch {
		if !ctx.removedOpIndexes[i] {
			kept = append(kept, op)
		}
	}
	removed := len(ctx.Batch) - len(kept)
	ctx.Batch = kept
	ctx.removedOpIndexes = make(map[int]bool)
	return removed
}

// BatchHandlerFunc is a single link in the bundling handler chain.
type BatchHandlerFunc func(ctx *BatchHandlerCtx) error

// ComposeBatchHandlerFunc runs handlers in order, stopping at the first error.
func ComposeBatchHandlerFunc(handlers ...BatchHandlerFunc) BatchHandlerFunc {
	return func(ctx *BatchHandlerCtx) error {
		for _, h := range handlers {
			if err := h(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
