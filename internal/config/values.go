package config

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stackup-wallet/erc4337-bundler-core/pkg/signer"
)

// Values holds every configuration knob the bundler core reads at startup, sourced
// from environment variables (or a ".env" file) with the erc4337_bundler_core_
// prefix, following the teacher's internal/config/values.go convention.
type Values struct {
	// Documented variables.
	PrivateKey           string
	EthClientUrl         string
	Port                 int
	SupportedEntryPoints []common.Address
	MaxVerificationGas   *big.Int
	MaxBatchGasLimit     *big.Int
	MaxOpTTL             time.Duration
	Beneficiary          string
	BundlingInterval     time.Duration

	// GasManager tolerance knobs, spec.md §4.3.
	LegacyMode                               bool
	MaxFeePerGasPercentageMultiplier         int64
	MaxPriorityFeePerGasPercentageMultiplier int64
	EnforceGasPriceTolerancePct              int64
	PVGCoefficientPct                        int64
	PVGAdditionConstant                      int64

	// ReputationManager knobs, spec.md §4.4.
	ReputationMinInclusionRateDenominator uint64
	ReputationThrottlingSlack             uint64
	ReputationBanSlack                    uint64

	// Mempool knobs, spec.md §4.5 / §10.
	MempoolPrioritizeByFee bool

	// Observability variables.
	OTELServiceName      string
	OTELCollectorHeaders map[string]string
	OTELCollectorUrl     string
	OTELInsecureMode     bool

	// Undocumented variables.
	DebugMode bool
	GinMode   string
}

func envKeyValStringToMap(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, "&") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			break
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func envArrayToAddressSlice(s string) []common.Address {
	env := strings.Split(s, ",")
	slc := []common.Address{}
	for _, ep := range env {
		slc = append(slc, common.HexToAddress(strings.TrimSpace(ep)))
	}
	return slc
}

func variableNotSetOrIsNil(env string) bool {
	return !viper.IsSet(env) || viper.GetString(env) == ""
}

// GetValues returns config for the bundler core read in from env vars.
func GetValues() *Values {
	viper.SetDefault("erc4337_bundler_core_port", 4337)
	viper.SetDefault("erc4337_bundler_core_supported_entry_points", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	viper.SetDefault("erc4337_bundler_core_max_verification_gas", 3000000)
	viper.SetDefault("erc4337_bundler_core_max_batch_gas_limit", 25000000)
	viper.SetDefault("erc4337_bundler_core_max_op_ttl_seconds", 180)
	viper.SetDefault("erc4337_bundler_core_bundling_interval_seconds", 10)
	viper.SetDefault("erc4337_bundler_core_legacy_mode", false)
	viper.SetDefault("erc4337_bundler_core_max_fee_per_gas_percentage_multiplier", 100)
	viper.SetDefault("erc4337_bundler_core_max_priority_fee_per_gas_percentage_multiplier", 100)
	viper.SetDefault("erc4337_bundler_core_enforce_gas_price_tolerance_pct", 0)
	viper.SetDefault("erc4337_bundler_core_pvg_coefficient_pct", 100)
	viper.SetDefault("erc4337_bundler_core_pvg_addition_constant", 0)
	viper.SetDefault("erc4337_bundler_core_reputation_min_inclusion_rate_denominator", 10)
	viper.SetDefault("erc4337_bundler_core_reputation_throttling_slack", 10)
	viper.SetDefault("erc4337_bundler_core_reputation_ban_slack", 50)
	viper.SetDefault("erc4337_bundler_core_mempool_prioritize_by_fee", false)
	viper.SetDefault("erc4337_bundler_core_otel_insecure_mode", false)
	viper.SetDefault("erc4337_bundler_core_debug_mode", false)
	viper.SetDefault("erc4337_bundler_core_gin_mode", gin.ReleaseMode)

	// .env files are optional: godotenv.Load's error is swallowed the same way the
	// teacher treats viper.ConfigFileNotFoundError as non-fatal.
	_ = godotenv.Load()
	viper.AutomaticEnv()

	for _, key := range []string{
		"erc4337_bundler_core_eth_client_url",
		"erc4337_bundler_core_private_key",
		"erc4337_bundler_core_port",
		"erc4337_bundler_core_supported_entry_points",
		"erc4337_bundler_core_beneficiary",
		"erc4337_bundler_core_max_verification_gas",
		"erc4337_bundler_core_max_batch_gas_limit",
		"erc4337_bundler_core_max_op_ttl_seconds",
		"erc4337_bundler_core_bundling_interval_seconds",
		"erc4337_bundler_core_legacy_mode",
		"erc4337_bundler_core_max_fee_per_gas_percentage_multiplier",
		"erc4337_bundler_core_max_priority_fee_per_gas_percentage_multiplier",
		"erc4337_bundler_core_enforce_gas_price_tolerance_pct",
		"erc4337_bundler_core_pvg_coefficient_pct",
		"erc4337_bundler_core_pvg_addition_constant",
		"erc4337_bundler_core_reputation_min_inclusion_rate_denominator",
		"erc4337_bundler_core_reputation_throttling_slack",
		"erc4337_bundler_core_reputation_ban_slack",
		"erc4337_bundler_core_mempool_prioritize_by_fee",
		"erc4337_bundler_core_otel_service_name",
		"erc4337_bundler_core_otel_collector_headers",
		"erc4337_bundler_core_otel_collector_url",
		"erc4337_bundler_core_otel_insecure_mode",
		"erc4337_bundler_core_debug_mode",
		"erc4337_bundler_core_gin_mode",
	} {
		_ = viper.BindEnv(key)
	}

	if variableNotSetOrIsNil("erc4337_bundler_core_eth_client_url") {
		panic("Fatal config error: erc4337_bundler_core_eth_client_url not set")
	}
	if variableNotSetOrIsNil("erc4337_bundler_core_private_key") {
		panic("Fatal config error: erc4337_bundler_core_private_key not set")
	}

	if !viper.IsSet("erc4337_bundler_core_beneficiary") {
		s, err := signer.New(viper.GetString("erc4337_bundler_core_private_key"))
		if err != nil {
			panic(err)
		}
		viper.SetDefault("erc4337_bundler_core_beneficiary", s.Address.String())
	}

	if viper.IsSet("erc4337_bundler_core_otel_service_name") &&
		variableNotSetOrIsNil("erc4337_bundler_core_otel_collector_url") {
		panic("Fatal config error: erc4337_bundler_core_otel_service_name is set without a collector URL")
	}

	return &Values{
		PrivateKey:                               viper.GetString("erc4337_bundler_core_private_key"),
		EthClientUrl:                              viper.GetString("erc4337_bundler_core_eth_client_url"),
		Port:                                      viper.GetInt("erc4337_bundler_core_port"),
		SupportedEntryPoints:                      envArrayToAddressSlice(viper.GetString("erc4337_bundler_core_supported_entry_points")),
		Beneficiary:                               viper.GetString("erc4337_bundler_core_beneficiary"),
		MaxVerificationGas:                        big.NewInt(int64(viper.GetInt("erc4337_bundler_core_max_verification_gas"))),
		MaxBatchGasLimit:                          big.NewInt(int64(viper.GetInt("erc4337_bundler_core_max_batch_gas_limit"))),
		MaxOpTTL:                                  time.Second * viper.GetDuration("erc4337_bundler_core_max_op_ttl_seconds"),
		BundlingInterval:                          time.Second * viper.GetDuration("erc4337_bundler_core_bundling_interval_seconds"),
		LegacyMode:                                viper.GetBool("erc4337_bundler_core_legacy_mode"),
		MaxFeePerGasPercentageMultiplier:          int64(viper.GetInt("erc4337_bundler_core_max_fee_per_gas_percentage_multiplier")),
		MaxPriorityFeePerGasPercentageMultiplier:  int64(viper.GetInt("erc4337_bundler_core_max_priority_fee_per_gas_percentage_multiplier")),
		EnforceGasPriceTolerancePct:               int64(viper.GetInt("erc4337_bundler_core_enforce_gas_price_tolerance_pct")),
		PVGCoefficientPct:                         int64(viper.GetInt("erc4337_bundler_core_pvg_coefficient_pct")),
		PVGAdditionConstant:                       int64(viper.GetInt("erc4337_bundler_core_pvg_addition_constant")),
		ReputationMinInclusionRateDenominator:      uint64(viper.GetInt("erc4337_bundler_core_reputation_min_inclusion_rate_denominator")),
		ReputationThrottlingSlack:                 uint64(viper.GetInt("erc4337_bundler_core_reputation_throttling_slack")),
		ReputationBanSlack:                         uint64(viper.GetInt("erc4337_bundler_core_reputation_ban_slack")),
		MempoolPrioritizeByFee:                     viper.GetBool("erc4337_bundler_core_mempool_prioritize_by_fee"),
		OTELServiceName:                            viper.GetString("erc4337_bundler_core_otel_service_name"),
		OTELCollectorHeaders:                        envKeyValStringToMap(viper.GetString("erc4337_bundler_core_otel_collector_headers")),
		OTELCollectorUrl:                            viper.GetString("erc4337_bundler_core_otel_collector_url"),
		OTELInsecureMode:                            viper.GetBool("erc4337_bundler_core_otel_insecure_mode"),
		DebugMode:                                  viper.GetBool("erc4337_bundler_core_debug_mode"),
		GinMode:                                    viper.GetString("erc4337_bundler_core_gin_mode"),
	}
}
