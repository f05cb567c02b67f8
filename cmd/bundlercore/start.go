package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/stackup-wallet/erc4337-bundler-core/internal/config"
	"github.com/stackup-wallet/erc4337-bundler-core/internal/logger"
	"github.com/stackup-wallet/erc4337-bundler-core/internal/telemetry"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/bundler"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/client"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/ethrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/gas"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/jsonrpc"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/mempool"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules/checks"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/modules/relay"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/reputation"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/signer"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/validation"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bundler core JSON-RPC server",
	Run:   start,
}

func start(cmd *cobra.Command, args []string) {
	conf := config.GetValues()

	log := logger.NewZeroLogr()
	if conf.DebugMode {
		log = logger.NewDebugZeroLogr()
	}
	gin.SetMode(conf.GinMode)

	eoa, err := signer.New(conf.PrivateKey)
	if err != nil {
		log.Error(err, "failed to load private key")
		return
	}

	ctx := context.Background()

	telemetryProvider, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  conf.OTELServiceName,
		CollectorURL: conf.OTELCollectorUrl,
		Headers:      conf.OTELCollectorHeaders,
		Insecure:     conf.OTELInsecureMode,
	})
	if err != nil {
		log.Error(err, "failed to set up telemetry")
		return
	}
	defer func() {
		if err := telemetryProvider.Shutdown(context.Background()); err != nil {
			log.Error(err, "telemetry shutdown error")
		}
	}()

	rpcClient, err := ethrpc.New(ctx, conf.EthClientUrl, log)
	if err != nil {
		log.Error(err, "failed to dial eth client")
		return
	}

	chainID, err := rpcClient.ChainID(ctx)
	if err != nil {
		log.Error(err, "failed to fetch chain id")
		return
	}

	if len(conf.SupportedEntryPoints) == 0 {
		log.Error(fmt.Errorf("no supported entry points configured"), "startup failed")
		return
	}
	entryPoint := conf.SupportedEntryPoints[0]

	validationManager := validation.NewManager(rpcClient, entryPoint, eoa.Address, log)
	reputationManager := reputation.NewManager(
		reputation.Config{
			MinInclusionRateDenominator: conf.ReputationMinInclusionRateDenominator,
			ThrottlingSlack:             conf.ReputationThrottlingSlack,
			BanSlack:                    conf.ReputationBanSlack,
		},
		log,
	)
	gasManager := gas.NewManager(
		rpcClient,
		entryPoint,
		chainID,
		conf.LegacyMode,
		conf.MaxFeePerGasPercentageMultiplier,
		conf.MaxPriorityFeePerGasPercentageMultiplier,
		log,
	)

	mp := mempool.NewMempool(validationManager, reputationManager, entryPoint, chainID, log)
	mp.PrioritizeByFee = conf.MempoolPrioritizeByFee

	c := client.New(mp, gasManager, chainID, conf.SupportedEntryPoints)
	c.UseLogger(log)
	c.UseModules(
		checks.ValidateVerificationGas(gasManager, conf.MaxVerificationGas, nil, nil, conf.PVGCoefficientPct, conf.PVGAdditionConstant),
		checks.ValidateFees(gasManager, conf.EnforceGasPriceTolerancePct),
	)

	maxBatchSize := estimateMaxBatchSize(conf.MaxBatchGasLimit)
	b := bundler.New(mp, entryPoint, chainID, eoa.Address, maxBatchSize)
	b.UseLogger(log)
	b.SetGetGasPricesFunc(func(ctx context.Context) (gasPrice, tip, baseFee *big.Int, err error) {
		tip, err = rpcClient.MaxPriorityFeePerGas(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		baseFee, err = rpcClient.BaseFee(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		gasPrice = new(big.Int).Add(baseFee, tip)
		return gasPrice, tip, baseFee, nil
	})

	relayer := relay.New(eoa, rpcClient, validationManager, reputationManager, chainID, eoa.Address, log)
	b.UseModules(relayer.SendUserOperation())

	go b.Process(ctx, conf.BundlingInterval)

	api := client.NewAPI(c, b, reputationManager, rpcClient, conf.PVGCoefficientPct, conf.PVGAdditionConstant)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(otelgin.Middleware(conf.OTELServiceName))
	r.POST("/rpc", jsonrpc.Controller(api, rpcClient.Raw(), rpcClient.Eth()))

	log.Info("starting bundler core", "port", conf.Port, "entrypoint", entryPoint.String(), "chain_id", chainID.String())
	if err := r.Run(fmt.Sprintf(":%d", conf.Port)); err != nil {
		log.Error(err, "server stopped")
	}
}

// estimateMaxBatchSize bounds the number of ops per bundle so the submitted handleOps
// transaction's gas usage stays under maxBatchGasLimit, assuming a fixed 1,000,000 gas
// (perOpGasEstimate) per op. A conservative fixed divisor avoids per-op gas
// bookkeeping at batch-selection time; the relay module still revalidates before send.
func estimateMaxBatchSize(maxBatchGasLimit *big.Int) int {
	const perOpGasEstimate = 1_000_000
	if maxBatchGasLimit == nil || maxBatchGasLimit.Sign() <= 0 {
		return 10
	}
	n := new(big.Int).Div(maxBatchGasLimit, big.NewInt(perOpGasEstimate)).Int64()
	if n < 1 {
		return 1
	}
	return int(n)
}
