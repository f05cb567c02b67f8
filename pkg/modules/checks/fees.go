package checks

import (
	"context"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/gas"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
)

// ValidateFees checks that an op's maxFeePerGas/maxPriorityFeePerGas stay within
// enforceGasPriceTolerancePct of the current network fee, spec.md §4.3's
// VerifyGasFees.
func ValidateFees(gasManager *gas.Manager, enforceGasPriceTolerancePct int64) modules.UserOpHandlerFunc {
	return func(ctx *modules.UserOpHandlerCtx) error {
		_, err := gasManager.VerifyGasFees(context.Background(), ctx.UserOp, enforceGasPriceTolerancePct)
		return err
	}
}
