package client

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/bundler"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/ethrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/gas"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/reputation"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// API is the reflection target pkg/jsonrpc.Controller dispatches requests onto. Method
// names follow the teacher's Namespace_methodName convention so that the incoming
// "namespace_methodName" JSON-RPC method title-cases onto an exported Go method.
type API struct {
	client     *Client
	bundler    *bundler.Bundler
	reputation *reputation.Manager
	rpc        *ethrpc.Client

	pvgCoefficientPct   int64
	pvgAdditionConstant int64
}

// NewAPI wires the Client, Bundler, and ReputationManager behind the EIP-4337 and
// debug_bundler_* JSON-RPC methods.
func NewAPI(c *Client, b *bundler.Bundler, rep *reputation.Manager, rpcClient *ethrpc.Client, pvgCoefficientPct, pvgAdditionConstant int64) *API {
	return &API{
		client:              c,
		bundler:             b,
		reputation:          rep,
		rpc:                 rpcClient,
		pvgCoefficientPct:   pvgCoefficientPct,
		pvgAdditionConstant: pvgAdditionConstant,
	}
}

// Eth_sendUserOperation implements eth_sendUserOperation.
func (a *API) Eth_sendUserOperation(op map[string]any, ep string) (string, error) {
	return a.client.SendUserOperation(context.Background(), op, ep)
}

// Eth_estimateUserOperationGas implements eth_estimateUserOperationGas. It estimates
// against the latest block (blockNumber=nil) with no explicit overrides, resolving the
// current base fee itself, using the PVG coefficient and addition constant fixed at API
// construction time.
func (a *API) Eth_estimateUserOperationGas(op map[string]any, ep string) (*gas.GasEstimates, error) {
	ctx := context.Background()
	baseFee, err := a.rpc.BaseFee(ctx)
	if err != nil {
		return nil, err
	}
	return a.client.EstimateUserOperationGas(ctx, op, ep, nil, baseFee, a.pvgCoefficientPct, a.pvgAdditionConstant)
}

// Eth_supportedEntryPoints implements eth_supportedEntryPoints.
func (a *API) Eth_supportedEntryPoints() ([]string, error) {
	return a.client.SupportedEntryPoints()
}

// Eth_chainId implements eth_chainId.
func (a *API) Eth_chainId() (string, error) {
	return a.client.ChainID()
}

// Debug_bundler_clearState implements debug_bundler_clearState: drops every admitted
// UserOperation and resets reputation tracking, spec.md §4.4/§4.5's clear().
func (a *API) Debug_bundler_clearState() error {
	a.client.ClearState()
	a.reputation.Clear()
	return nil
}

// Debug_bundler_dumpMempool implements debug_bundler_dumpMempool.
func (a *API) Debug_bundler_dumpMempool() ([]*userop.UserOperation, error) {
	return a.client.DumpMempool(), nil
}

// Debug_bundler_sendBundleNow implements debug_bundler_sendBundleNow: triggers an
// immediate bundling pass outside of the regular interval.
func (a *API) Debug_bundler_sendBundleNow() error {
	a.bundler.SendBundleNow()
	return nil
}

// Debug_bundler_dumpReputation implements debug_bundler_dumpReputation.
func (a *API) Debug_bundler_dumpReputation() (map[common.Address]reputation.Entry, error) {
	return a.reputation.Dump(), nil
}

// Debug_bundler_setReputation implements debug_bundler_setReputation: seeds an entity's
// OpsSeen/OpsIncluded counters, used in test harnesses to force a THROTTLED/BANNED state.
func (a *API) Debug_bundler_setReputation(addr string, opsSeen, opsIncluded uint64) error {
	a.reputation.Set(common.HexToAddress(addr), reputation.Entry{
		OpsSeen:     opsSeen,
		OpsIncluded: opsIncluded,
	})
	return nil
}
