// Package relay implements a module for private bundlers to send batches to the
// EntryPoint through regular EOA transactions.
package relay

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-logr/logr"

	coreabi "github.com/stackup-wallet/erc4337-bundler-core/pkg/abi"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/ethrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/reputation"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/signer"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/validation"
)

// DefaultWaitTimeout is how long SendUserOperation waits for a handleOps() transaction
// to be included before giving up on confirmation (it has already been broadcast by
// then, so a timeout here does not mean the transaction failed).
const DefaultWaitTimeout = 30 * time.Second

// Relayer provides a module that can relay batches with a regular EOA. Relaying
// batches to the EntryPoint through a regular transaction comes with several
// important notes:
//
//   - The bundler will NOT be operating as a block builder.
//   - This opens the bundler up to frontrunning.
//
// This module only works in the case of a private mempool; it will not work in the
// P2P case where ops are propagated through the network and it is impossible to
// prevent collisions from multiple bundlers trying to relay the same ops.
type Relayer struct {
	eoa         *signer.EOA
	rpc         *ethrpc.Client
	validation  *validation.Manager
	reputation  *reputation.Manager
	chainID     *big.Int
	beneficiary common.Address
	logger      logr.Logger
	waitTimeout time.Duration
}

// New initializes a new EOA relayer for sending batches to the EntryPoint.
func New(eoa *signer.EOA, rpcClient *ethrpc.Client, validationManager *validation.Manager, reputationManager *reputation.Manager, chainID *big.Int, beneficiary common.Address, l logr.Logger) *Relayer {
	return &Relayer{
		eoa:         eoa,
		rpc:         rpcClient,
		validation:  validationManager,
		reputation:  reputationManager,
		chainID:     chainID,
		beneficiary: beneficiary,
		logger:      l.WithName("relayer"),
		waitTimeout: DefaultWaitTimeout,
	}
}

// SetWaitTimeout sets the total time to wait for a transaction to be included. The
// BatchHandler returns nil both when the timeout is reached before inclusion and when
// the transaction is included with a failed status; the latter is only logged.
//
// The default value is 30 seconds. Setting the value to 0 will skip waiting for a
// transaction to be included.
func (r *Relayer) SetWaitTimeout(timeout time.Duration) {
	r.waitTimeout = timeout
}

// SendUserOperation returns a BatchHandlerFunc that relays ctx.Batch to the EntryPoint
// in a single handleOps() transaction signed by the relayer's EOA, dropping any op
// whose revalidation fails before submission.
func (r *Relayer) SendUserOperation() modules.BatchHandlerFunc {
	return func(ctx *modules.BatchHandlerCtx) error {
		for len(ctx.Batch) > 0 {
			estRev := []string{}
			for i, op := range ctx.Batch {
				if _, err := r.validation.SimulateValidation(context.Background(), op); err != nil {
					ctx.MarkOpIndexForRemoval(i)
					estRev = append(estRev, err.Error())
				}
			}
			removed := ctx.PruneRemoved()
			ctx.Data["relayer_est_revert_reasons"] = estRev
			if removed == 0 {
				break
			}
			if len(ctx.Batch) == 0 {
				return nil
			}
		}

		if len(ctx.Batch) == 0 {
			return nil
		}

		return r.handleOps(ctx)
	}
}

func (r *Relayer) handleOps(ctx *modules.BatchHandlerCtx) error {
	rpcCtx := context.Background()

	calldata, err := coreabi.EncodeHandleOpsCalldata(ctx.Batch, r.beneficiary)
	if err != nil {
		return err
	}

	nonce, err := r.rpc.PendingNonceAt(rpcCtx, r.eoa.Address)
	if err != nil {
		return err
	}

	gasLimit, err := r.rpc.EstimateGas(rpcCtx, ethrpc.CallMsg{
		From: r.eoa.Address,
		To:   &ctx.EntryPoint,
		Data: calldata,
	})
	if err != nil {
		return err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     nonce,
		GasTipCap: ctx.Tip,
		GasFeeCap: ctx.GasPrice,
		Gas:       gasLimit,
		To:        &ctx.EntryPoint,
		Data:      calldata,
	})

	opts, err := r.eoa.NewTransactOpts(r.chainID)
	if err != nil {
		return err
	}
	signed, err := opts.Signer(opts.From, tx)
	if err != nil {
		return err
	}

	if err := r.rpc.SendTransaction(rpcCtx, signed); err != nil {
		return err
	}
	ctx.Data["txn_hash"] = signed.Hash().String()
	r.logger.Info("handleOps sent", "txn_hash", signed.Hash().String(), "batch_size", len(ctx.Batch))
	r.markIncluded(ctx.Batch)

	if r.waitTimeout == 0 {
		return nil
	}
	return r.waitForReceipt(signed.Hash())
}

// markIncluded bumps ops_included for every sender/factory/paymaster named in a batch
// that was just broadcast, spec.md §4.4's "on each bundle inclusion, ops_included += 1"
// invariant. This fires on broadcast rather than on-chain confirmation: handleOps()
// transactions are not expected to individually revert per op (SendUserOperation
// already revalidated each one), and waitForReceipt only logs a whole-batch revert, so
// there is no later per-op confirmation point to hook this into instead.
func (r *Relayer) markIncluded(batch []*userop.UserOperation) {
	if r.reputation == nil {
		return
	}
	for _, op := range batch {
		r.reputation.UpdateIncludedStatus(op.Sender)
		if op.HasFactory() {
			r.reputation.UpdateIncludedStatus(op.GetFactory())
		}
		if op.HasPaymaster() {
			r.reputation.UpdateIncludedStatus(op.GetPaymaster())
		}
	}
}

func (r *Relayer) waitForReceipt(hash common.Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			receipt, err := r.rpc.TransactionReceipt(ctx, hash)
			if err != nil {
				continue
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				r.logger.Info("handleOps transaction reverted", "txn_hash", hash.String())
			}
			return nil
		}
	}
}
