// Package client provides the mediator for processing incoming UserOperations: running
// them through the UserOpHandlerFunc chain, checking them against the mempool, and
// exposing the EIP-4337 JSON-RPC methods spec.md §6 names.
package client

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackup-wallet/erc4337-bundler-core/internal/logger"
	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/gas"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/mempool"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules/noop"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/userop"
)

// instrumentationName identifies this package's spans/metrics to whichever
// TracerProvider/MeterProvider internal/telemetry.Setup installed as the process-wide
// globals (a no-op provider when telemetry isn't configured).
const instrumentationName = "github.com/stackup-wallet/erc4337-bundler-core/pkg/client"

// GetGasPricesFunc supplies suggested maxFeePerGas/maxPriorityFeePerGas when the caller
// submitted an EstimateUserOperationGas request with maxFeePerGas == 0.
type GetGasPricesFunc func(ctx context.Context) (maxFeePerGas, maxPriorityFeePerGas *big.Int, err error)

// Client controls the end-to-end process of admitting UserOperations to the mempool.
// It implements the RPC methods EIP-4337 specifies (spec.md §6).
type Client struct {
	mempool              *mempool.Mempool
	gas                  *gas.Manager
	chainID              *big.Int
	supportedEntryPoints []common.Address
	userOpHandler        modules.UserOpHandlerFunc
	logger               logr.Logger
	getGasPrices         GetGasPricesFunc

	tracer          trace.Tracer
	opsAdmitted     metric.Int64Counter
	opsRejected     metric.Int64Counter
	estimateLatency metric.Float64Histogram
}

// New initializes a Client that can be extended with modules for additional
// UserOperation checks ahead of mempool admission. Its Tracer/Meter are pulled from
// the otel global providers at construction time, so internal/telemetry.Setup must run
// (or be skipped entirely) before New is called.
func New(mp *mempool.Mempool, gasManager *gas.Manager, chainID *big.Int, supportedEntryPoints []common.Address) *Client {
	meter := otel.Meter(instrumentationName)
	opsAdmitted, _ := meter.Int64Counter(
		"bundler.userops.admitted",
		metric.WithDescription("UserOperations accepted into the mempool"),
	)
	opsRejected, _ := meter.Int64Counter(
		"bundler.userops.rejected",
		metric.WithDescription("UserOperations rejected ahead of mempool admission"),
	)
	estimateLatency, _ := meter.Float64Histogram(
		"bundler.estimate_gas.duration_ms",
		metric.WithDescription("eth_estimateUserOperationGas latency in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Client{
		mempool:              mp,
		gas:                  gasManager,
		chainID:              chainID,
		supportedEntryPoints: supportedEntryPoints,
		userOpHandler:        noop.UserOpHandler,
		logger:               logger.NewZeroLogr().WithName("client"),
		getGasPrices: func(ctx context.Context) (*big.Int, *big.Int, error) {
			return big.NewInt(0), big.NewInt(0), nil
		},
		tracer:          otel.Tracer(instrumentationName),
		opsAdmitted:     opsAdmitted,
		opsRejected:     opsRejected,
		estimateLatency: estimateLatency,
	}
}

func (i *Client) parseEntryPointAddress(ep string) (common.Address, error) {
	addr := common.HexToAddress(ep)
	for _, supported := range i.supportedEntryPoints {
		if supported == addr {
			return addr, nil
		}
	}
	return common.Address{}, &bundlererrors.InvalidFields{Reason: "entryPoint: implementation not supported"}
}

// UseLogger defines the logger object used by the Client instance based on the go-logr/logr interface.
func (i *Client) UseLogger(l logr.Logger) {
	i.logger = l.WithName("client")
}

// UseModules defines the UserOpHandlers to process a userOp ahead of the standard
// mempool-admission checks.
func (i *Client) UseModules(handlers ...modules.UserOpHandlerFunc) {
	i.userOpHandler = modules.ComposeUserOpHandlerFunc(handlers...)
}

// SetGetGasPricesFunc defines the function used to backfill fee fields in
// EstimateUserOperationGas when the caller submits maxFeePerGas == 0.
func (i *Client) SetGetGasPricesFunc(fn GetGasPricesFunc) {
	i.getGasPrices = fn
}

// SendUserOperation implements the method call for eth_sendUserOperation. It returns
// the userOpHash if the op was admitted to the mempool, per spec.md §4.5.
func (i *Client) SendUserOperation(ctx context.Context, op map[string]any, ep string) (string, error) {
	ctx, span := i.tracer.Start(ctx, "SendUserOperation")
	defer span.End()

	l := i.logger.WithName("eth_sendUserOperation")

	reject := func(err error) (string, error) {
		span.RecordError(err)
		i.opsRejected.Add(ctx, 1)
		l.Error(err, "eth_sendUserOperation error")
		return "", err
	}

	epAddr, err := i.parseEntryPointAddress(ep)
	if err != nil {
		return reject(err)
	}
	l = l.WithValues("entrypoint", epAddr.String(), "chain_id", i.chainID.String())
	span.SetAttributes(attribute.String("entrypoint", epAddr.String()), attribute.String("chain_id", i.chainID.String()))

	userOp, err := userop.FromMap(op)
	if err != nil {
		return reject(err)
	}

	hctx := modules.NewUserOpHandlerContext(userOp, epAddr, i.chainID)
	if err := i.userOpHandler(hctx); err != nil {
		return reject(err)
	}

	hash, err := i.mempool.AddOp(ctx, hctx.UserOp)
	if err != nil {
		return reject(err)
	}

	i.opsAdmitted.Add(ctx, 1)
	l.Info("eth_sendUserOperation ok", "userop_hash", hash.String())
	return hash.String(), nil
}

// EstimateUserOperationGas implements eth_estimateUserOperationGas: returns estimates
// for PreVerificationGas, VerificationGasLimit, and CallGasLimit, spec.md §4.3.
func (i *Client) EstimateUserOperationGas(
	ctx context.Context,
	op map[string]any,
	ep string,
	blockNumber, baseFee *big.Int,
	pvgCoefficientPct, pvgAdditionConstant int64,
) (*gas.GasEstimates, error) {
	start := time.Now()
	defer func() {
		i.estimateLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	l := i.logger.WithName("eth_estimateUserOperationGas")

	epAddr, err := i.parseEntryPointAddress(ep)
	if err != nil {
		l.Error(err, "eth_estimateUserOperationGas error")
		return nil, err
	}
	l = l.WithValues("entrypoint", epAddr.String(), "chain_id", i.chainID.String())

	userOp, err := userop.FromMap(op)
	if err != nil {
		l.Error(err, "eth_estimateUserOperationGas error")
		return nil, err
	}

	if userOp.MaxFeePerGas.Sign() <= 0 {
		maxFee, maxPriorityFee, err := i.getGasPrices(ctx)
		if err != nil {
			l.Error(err, "eth_estimateUserOperationGas error")
			return nil, err
		}
		userOp.MaxFeePerGas = maxFee
		userOp.MaxPriorityFeePerGas = maxPriorityFee
	}

	estimates, err := i.gas.EstimateAll(ctx, userOp, blockNumber, baseFee, nil, pvgCoefficientPct, pvgAdditionConstant)
	if err != nil {
		l.Error(err, "eth_estimateUserOperationGas error")
		return nil, err
	}

	l.Info("eth_estimateUserOperationGas ok")
	return estimates, nil
}

// SupportedEntryPoints implements eth_supportedEntryPoints.
func (i *Client) SupportedEntryPoints() ([]string, error) {
	out := make([]string, len(i.supportedEntryPoints))
	for idx, ep := range i.supportedEntryPoints {
		out[idx] = ep.String()
	}
	return out, nil
}

// ChainID implements eth_chainId.
func (i *Client) ChainID() (string, error) {
	return hexutil.EncodeBig(i.chainID), nil
}

// DumpMempool implements debug_bundler_dumpMempool: returns every op currently
// admitted, in sender-insertion order, spec.md §4.5's get_all().
func (i *Client) DumpMempool() []*userop.UserOperation {
	return i.mempool.GetAll()
}

// ClearState implements debug_bundler_clearState: drops every admitted op.
func (i *Client) ClearState() {
	i.mempool.Clear()
}
