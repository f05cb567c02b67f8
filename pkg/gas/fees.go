package gas

import (
	"context"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/entrypoint"
	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// VerifyGasFees implements spec.md §4.3.3: it checks a submitted op's maxFeePerGas and
// maxPriorityFeePerGas clear the current network price (within an operator-configured
// tolerance) before the op is accepted into the mempool, and returns the current
// network gas price for callers that want to surface it. enforceGasPriceTolerancePct of
// 100 or above disables the check entirely (useful for private/testnet relays).
//
// The legacy-price and priority-fee RPCs are independent reads, so they run
// concurrently via errgroup the same way the teacher fans out independent RPCs
// elsewhere in the bundler.
func (m *Manager) VerifyGasFees(ctx context.Context, op *userop.UserOperation, enforceGasPriceTolerancePct int64) (*big.Int, error) {
	var (
		gasPrice           *big.Int
		maxPriorityFeePerGas *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := m.rpc.GasPrice(gctx)
		if err != nil {
			return err
		}
		gasPrice = p
		return nil
	})
	if !m.legacyMode {
		g.Go(func() error {
			p, err := m.rpc.MaxPriorityFeePerGas(gctx)
			if err != nil {
				return err
			}
			maxPriorityFeePerGas = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blockMaxFeePerGas := ceilDiv(new(big.Int).Mul(gasPrice, big.NewInt(m.maxFeePerGasPercentageMultiplier)), big.NewInt(100))
	blockMaxFeePerGasWithTolerance := ceilDiv(
		new(big.Int).Mul(blockMaxFeePerGas, big.NewInt(100-enforceGasPriceTolerancePct)),
		big.NewInt(100),
	)

	if enforceGasPriceTolerancePct < 100 {
		if m.legacyMode {
			if op.MaxFeePerGas.Cmp(blockMaxFeePerGasWithTolerance) < 0 {
				return nil, &bundlererrors.InvalidFields{Reason: "maxFeePerGas is below the network price tolerance floor"}
			}
		} else {
			blockMaxPriorityFeePerGas := ceilDiv(
				new(big.Int).Mul(maxPriorityFeePerGas, big.NewInt(m.maxPriorityFeePerGasPercentageMultiplier)),
				big.NewInt(100),
			)
			estimatedBaseFee := new(big.Int).Sub(blockMaxFeePerGas, blockMaxPriorityFeePerGas)
			if estimatedBaseFee.Sign() < 1 {
				estimatedBaseFee = big.NewInt(1)
			}

			if op.MaxFeePerGas.Cmp(estimatedBaseFee) < 0 {
				return nil, &bundlererrors.InvalidFields{Reason: "maxFeePerGas is below the estimated base fee"}
			}
			if op.MaxPriorityFeePerGas.Cmp(big.NewInt(1)) < 0 {
				return nil, &bundlererrors.InvalidFields{Reason: "maxPriorityFeePerGas must be at least 1"}
			}

			combined := new(big.Int).Add(estimatedBaseFee, op.MaxPriorityFeePerGas)
			effective := combined
			if op.MaxFeePerGas.Cmp(combined) < 0 {
				effective = op.MaxFeePerGas
			}
			if effective.Cmp(blockMaxFeePerGasWithTolerance) < 0 {
				return nil, &bundlererrors.InvalidFields{Reason: "maxFeePerGas and maxPriorityFeePerGas + base fee are below the network price tolerance floor"}
			}
		}
	}

	return gasPrice, nil
}

// VerifyPreVerificationGasAndVerificationGasLimit implements spec.md §4.3.3's
// complementary static check: the submitted preVerificationGas must be at least what
// CalcPreVerificationGas would compute, and verificationGasLimit must not exceed the
// protocol max.
func (m *Manager) VerifyPreVerificationGasAndVerificationGasLimit(ctx context.Context, op *userop.UserOperation, blockNumber, baseFee *big.Int, pvgCoefficientPct, pvgAdditionConstant int64) error {
	expected, err := m.CalcPreVerificationGas(ctx, op, blockNumber, baseFee, pvgCoefficientPct, pvgAdditionConstant)
	if err != nil {
		return err
	}
	if op.PreVerificationGas.Cmp(expected) < 0 {
		return &bundlererrors.InvalidFields{Reason: "preVerificationGas is below the expected minimum"}
	}
	if op.VerificationGasLimit.Cmp(big.NewInt(entrypoint.MaxVerificationGasLimit)) > 0 {
		return &bundlererrors.InvalidFields{Reason: "verificationGasLimit exceeds the protocol maximum"}
	}
	return nil
}
