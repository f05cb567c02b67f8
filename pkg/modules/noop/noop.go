// Package noop provides default no-op handlers for Client and Bundler mediators that
// have not been extended with any modules yet.
package noop

import "github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"

// UserOpHandler is the default UserOpHandlerFunc: it accepts every op unconditionally.
func UserOpHandler(ctx *modules.UserOpHandlerCtx) error {
	return nil
}

// BatchHandler is the default BatchHandlerFunc: it does nothing with the batch.
func BatchHandler(ctx *modules.BatchHandlerCtx) error {
	return nil
}
