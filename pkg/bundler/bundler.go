// Package bundler implements the periodic bundling loop: pull a batch from the
// mempool, run it through the BatchHandlerFunc chain (static checks, relaying), and
// repeat on a timer. Grounded on spec.md §4.5's get_bundle()/clear() contract; the
// retrieval pack did not include a generic pkg/bundler/bundler.go (only the
// intents-specific solveintents.go), so the Bundler mediator itself is rebuilt here in
// the same mediator-plus-UseModules shape as pkg/client.Client.
package bundler

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/stackup-wallet/erc4337-bundler-core/internal/logger"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/mempool"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules/noop"
)

// instrumentationName identifies this package's metrics to whichever MeterProvider
// internal/telemetry.Setup installed globally (a no-op provider when unconfigured).
const instrumentationName = "github.com/stackup-wallet/erc4337-bundler-core/pkg/bundler"

// GetGasPricesFunc supplies the current legacy gas price, EIP-1559 tip, and base fee
// used to populate a BatchHandlerCtx ahead of relaying.
type GetGasPricesFunc func(ctx context.Context) (gasPrice, tip, baseFee *big.Int, err error)

// Bundler periodically assembles a bundle from the mempool and runs it through the
// configured BatchHandlerFunc chain (e.g. pkg/modules/relay.Relayer.SendUserOperation).
type Bundler struct {
	mempool       *mempool.Mempool
	entryPoint    common.Address
	chainID       *big.Int
	beneficiary   common.Address
	maxBatchSize  int
	batchHandler  modules.BatchHandlerFunc
	getGasPrices  GetGasPricesFunc
	logger        logr.Logger
	tickerCh      chan struct{}

	bundleSize metric.Int64Histogram
}

// New constructs a Bundler bound to mempool, with no batch handlers configured (use
// UseModules to add relaying) and a no-op gas price source (use SetGetGasPricesFunc).
func New(mp *mempool.Mempool, entryPoint common.Address, chainID *big.Int, beneficiary common.Address, maxBatchSize int) *Bundler {
	meter := otel.Meter(instrumentationName)
	bundleSize, _ := meter.Int64Histogram(
		"bundler.bundle.size",
		metric.WithDescription("Number of UserOperations included in each processed bundle"),
	)

	return &Bundler{
		mempool:      mp,
		entryPoint:   entryPoint,
		chainID:      chainID,
		beneficiary:  beneficiary,
		maxBatchSize: maxBatchSize,
		batchHandler: noop.BatchHandler,
		getGasPrices: func(ctx context.Context) (*big.Int, *big.Int, *big.Int, error) {
			return big.NewInt(0), big.NewInt(0), big.NewInt(0), nil
		},
		logger:     logger.NewZeroLogr().WithName("bundler"),
		tickerCh:   make(chan struct{}, 1),
		bundleSize: bundleSize,
	}
}

// UseLogger defines the logger object used by the Bundler based on the go-logr/logr interface.
func (b *Bundler) UseLogger(l logr.Logger) {
	b.logger = l.WithName("bundler")
}

// UseModules defines the BatchHandlers to run on every assembled bundle.
func (b *Bundler) UseModules(handlers ...modules.BatchHandlerFunc) {
	b.batchHandler = modules.ComposeBatchHandlerFunc(handlers...)
}

// SetGetGasPricesFunc defines the function used to populate BatchHandlerCtx's
// GasPrice/Tip/BaseFee fields ahead of each bundling attempt.
func (b *Bundler) SetGetGasPricesFunc(fn GetGasPricesFunc) {
	b.getGasPrices = fn
}

// Run assembles and processes exactly one bundle. It is exported separately from the
// ticker loop in Process so tests and a manual debug_bundler_sendbundlenow RPC call can
// trigger a single bundling pass synchronously.
func (b *Bundler) Run(ctx context.Context) error {
	l := b.logger.WithName("run")

	batch, err := b.mempool.GetBundle(ctx)
	if err != nil {
		l.Error(err, "get bundle error")
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	if b.maxBatchSize > 0 && len(batch) > b.maxBatchSize {
		batch = batch[:b.maxBatchSize]
	}

	gasPrice, tip, baseFee, err := b.getGasPrices(ctx)
	if err != nil {
		l.Error(err, "get gas prices error")
		return err
	}

	bctx := modules.NewBatchHandlerContext(batch, b.entryPoint, b.chainID, baseFee, tip, gasPrice, b.beneficiary)
	if err := b.batchHandler(bctx); err != nil {
		l.Error(err, "batch handler error")
		return err
	}

	b.bundleSize.Record(ctx, int64(len(batch)))
	l.Info("bundle processed", "size", len(batch))
	return nil
}

// Process runs Run on a fixed interval until ctx is cancelled, matching spec.md §5's
// "cooperative scheduler" framing: each tick is one full suspension-point cycle
// (get_bundle -> validate/relay -> sleep).
func (b *Bundler) Process(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Run(ctx); err != nil {
				b.logger.Error(err, "bundling cycle failed")
			}
		case <-b.tickerCh:
			if err := b.Run(ctx); err != nil {
				b.logger.Error(err, "bundling cycle failed")
			}
		}
	}
}

// SendBundleNow requests an immediate out-of-cycle bundling pass, used by the
// debug_bundler_sendbundlenow RPC method.
func (b *Bundler) SendBundleNow() {
	select {
	case b.tickerCh <- struct{}{}:
	default:
	}
}
