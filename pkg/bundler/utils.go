package bundler

import (
	"encoding/json"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
)

// DumpCtx logs a BatchHandlerCtx's contents, adapted from the teacher's PrintCtx debug
// helper (which printed deposit/pending-op state specific to the intents mediator that
// no longer exists here).
func DumpCtx(ctx *modules.BatchHandlerCtx) {
	println("BatchHandlerCtx")
	println("EntryPoint:", ctx.EntryPoint.String())
	println("ChainID:", ctx.ChainID.String())
	for _, op := range ctx.Batch {
		DumpUserOp(op)
	}
}

func DumpUserOp(op any) {
	opJSON, err := json.Marshal(op)
	if err != nil {
		println("userOp JSON marshalling err:", err.Error())
		return
	}
	println("opJSON:", string(opJSON))
}
