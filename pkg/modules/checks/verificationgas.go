// Package checks implements static field checks run ahead of mempool admission,
// spec.md §4.5's static checks predecessor to SimulateValidation.
package checks

import (
	"context"
	"fmt"
	"math/big"

	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/gas"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
)

// ValidateVerificationGas checks that the verificationGasLimit is sufficiently low
// (<= maxVerificationGas) and the preVerificationGas is sufficiently high (enough to
// pay for the calldata gas cost of serializing the UserOperation plus the fixed/
// per-op/per-word overhead GasManager.CalcPreVerificationGas computes).
func ValidateVerificationGas(
	gasManager *gas.Manager,
	maxVerificationGas *big.Int,
	blockNumber, baseFee *big.Int,
	pvgCoefficientPct, pvgAdditionConstant int64,
) modules.UserOpHandlerFunc {
	return func(ctx *modules.UserOpHandlerCtx) error {
		op := ctx.UserOp
		if op.VerificationGasLimit.Cmp(maxVerificationGas) > 0 {
			return &bundlererrors.InvalidFields{
				Reason: fmt.Sprintf("verificationGasLimit: exceeds maxVerificationGas of %s", maxVerificationGas.String()),
			}
		}

		pvg, err := gasManager.CalcPreVerificationGas(context.Background(), op, blockNumber, baseFee, pvgCoefficientPct, pvgAdditionConstant)
		if err != nil {
			return err
		}
		if op.PreVerificationGas.Cmp(pvg) < 0 {
			return &bundlererrors.InvalidFields{
				Reason: fmt.Sprintf("preVerificationGas: below expected gas of %s", pvg.String()),
			}
		}

		return nil
	}
}
