package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".greenscore"
	envPrefix  = "GREENSCORE"

	DefaultMockRPCURL      = "http://127.0.0.1:8545"
	DefaultDiscoveryBudget = 200 * time.Millisecond
	DefaultKeyCacheQuota   = 4 << 20

	WalletModeRPC      = "rpc"
	WalletModeKeystore = "keystore"
)

type Config struct {
	HomeDir         string
	Mock            MockConfig
	Relayer         RelayerConfig
	Deployments     map[uint64]Deployment
	Operators       Operators
	StatePath       string
	KeyCachePath    string
	KeyCacheQuota   int64
	SecretsDir      string
	Wallet          WalletConfig
	LogLevel        string
	DiscoveryBudget time.Duration
}

type MockConfig struct {
	ChainID        uint64
	RPCURL         string
	CoprocessorKey string
}

type RelayerConfig struct {
	SDKURL   string
	URL      string
	Networks map[uint64]NetworkOverride
}

type NetworkOverride struct {
	ACLAddress                     string `mapstructure:"acl_address"`
	KMSVerifierAddress             string `mapstructure:"kms_verifier_address"`
	InputVerifierAddress           string `mapstructure:"input_verifier_address"`
	VerifyingContractDecryption    string `mapstructure:"verifying_contract_decryption"`
	VerifyingContractInputVerifier string `mapstructure:"verifying_contract_input_verification"`
	GatewayChainID                 uint64 `mapstructure:"gateway_chain_id"`
	RelayerURL                     string `mapstructure:"relayer_url"`
}

type Deployment struct {
	Address   common.Address
	ChainName string
}

// Operators are deploy-time settings carried for tooling. The runtime core
// never reads them.
type Operators struct {
	Rewards     string
	Leaderboard string
}

type WalletConfig struct {
	Mode          string
	RPCURL        string
	KeystoreDir   string
	PassphraseRef string
}

type deploymentSchema struct {
	Address   string `mapstructure:"address"`
	ChainName string `mapstructure:"chain_name"`
}

func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, configDir)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(baseDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mock.chain_id", domain.DefaultMockChainID)
	v.SetDefault("mock.rpc_url", DefaultMockRPCURL)
	v.SetDefault("mock.coprocessor_key", "")
	v.SetDefault("relayer.sdk_url", "")
	v.SetDefault("relayer.url", "")
	v.SetDefault("state.path", filepath.Join(baseDir, "state.toml"))
	v.SetDefault("keycache.path", filepath.Join(baseDir, "keycache.db"))
	v.SetDefault("keycache.quota_bytes", DefaultKeyCacheQuota)
	v.SetDefault("secrets.dir", filepath.Join(baseDir, "secrets"))
	v.SetDefault("wallet.mode", WalletModeRPC)
	v.SetDefault("wallet.rpc_url", "")
	v.SetDefault("wallet.keystore_dir", filepath.Join(baseDir, "keystore"))
	v.SetDefault("wallet.passphrase_ref", "greenscore/keystore/passphrase")
	v.SetDefault("log.level", "warn")
	v.SetDefault("discovery.budget", DefaultDiscoveryBudget)
	v.SetDefault("contract.address", "")
	v.SetDefault("contract.chain_id", domain.DefaultMockChainID)
	v.SetDefault("contract.chain_name", "")

	if err := v.BindEnv("operators.rewards", "GREEN_SCORE_REWARDS_OPERATOR"); err != nil {
		return Config{}, fmt.Errorf("bind rewards operator env: %w", err)
	}
	if err := v.BindEnv("operators.leaderboard", "GREEN_SCORE_LEADERBOARD_OPERATOR"); err != nil {
		return Config{}, fmt.Errorf("bind leaderboard operator env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		HomeDir: baseDir,
		Mock: MockConfig{
			ChainID:        v.GetUint64("mock.chain_id"),
			RPCURL:         v.GetString("mock.rpc_url"),
			CoprocessorKey: v.GetString("mock.coprocessor_key"),
		},
		Relayer: RelayerConfig{
			SDKURL: v.GetString("relayer.sdk_url"),
			URL:    v.GetString("relayer.url"),
		},
		Operators: Operators{
			Rewards:     v.GetString("operators.rewards"),
			Leaderboard: v.GetString("operators.leaderboard"),
		},
		StatePath:     v.GetString("state.path"),
		KeyCachePath:  v.GetString("keycache.path"),
		KeyCacheQuota: v.GetInt64("keycache.quota_bytes"),
		SecretsDir:    v.GetString("secrets.dir"),
		Wallet: WalletConfig{
			Mode:          strings.ToLower(v.GetString("wallet.mode")),
			RPCURL:        v.GetString("wallet.rpc_url"),
			KeystoreDir:   v.GetString("wallet.keystore_dir"),
			PassphraseRef: v.GetString("wallet.passphrase_ref"),
		},
		LogLevel:        v.GetString("log.level"),
		DiscoveryBudget: v.GetDuration("discovery.budget"),
	}

	if cfg.Wallet.RPCURL == "" {
		cfg.Wallet.RPCURL = cfg.Mock.RPCURL
	}
	if cfg.DiscoveryBudget <= 0 {
		cfg.DiscoveryBudget = DefaultDiscoveryBudget
	}

	cfg.Deployments, err = loadDeployments(v)
	if err != nil {
		return Config{}, err
	}

	cfg.Relayer.Networks, err = loadNetworkOverrides(v)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Mock.ChainID == 0 {
		return errors.New("mock.chain_id must be positive")
	}
	if c.Mock.RPCURL == "" {
		return errors.New("mock.rpc_url is empty")
	}
	if c.StatePath == "" {
		return errors.New("state.path is empty")
	}
	if c.KeyCachePath == "" {
		return errors.New("keycache.path is empty")
	}
	switch c.Wallet.Mode {
	case WalletModeRPC, WalletModeKeystore:
	default:
		return fmt.Errorf("unsupported wallet.mode %q (expected %s or %s)", c.Wallet.Mode, WalletModeRPC, WalletModeKeystore)
	}
	for _, operator := range []string{c.Operators.Rewards, c.Operators.Leaderboard} {
		if operator != "" && !common.IsHexAddress(operator) {
			return fmt.Errorf("invalid operator address %q", operator)
		}
	}
	return nil
}

func loadDeployments(v *viper.Viper) (map[uint64]Deployment, error) {
	raw := map[string]deploymentSchema{}
	if err := v.UnmarshalKey("deployments", &raw); err != nil {
		return nil, fmt.Errorf("decode deployments: %w", err)
	}

	deployments := make(map[uint64]Deployment, len(raw)+1)
	for key, entry := range raw {
		chainID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid deployment chain id %q: %w", key, err)
		}
		deployment, ok, err := toDeployment(entry)
		if err != nil {
			return nil, fmt.Errorf("deployment for chain %d: %w", chainID, err)
		}
		if ok {
			deployments[chainID] = deployment
		}
	}

	deployment, ok, err := toDeployment(deploymentSchema{
		Address:   v.GetString("contract.address"),
		ChainName: v.GetString("contract.chain_name"),
	})
	if err != nil {
		return nil, fmt.Errorf("contract.address: %w", err)
	}
	if ok {
		deployments[v.GetUint64("contract.chain_id")] = deployment
	}

	return deployments, nil
}

// toDeployment reports ok=false for empty or zero addresses, which mean
// "not deployed".
func toDeployment(entry deploymentSchema) (Deployment, bool, error) {
	address := strings.TrimSpace(entry.Address)
	if address == "" {
		return Deployment{}, false, nil
	}
	if !common.IsHexAddress(address) {
		return Deployment{}, false, fmt.Errorf("invalid address %q", address)
	}
	parsed := common.HexToAddress(address)
	if parsed == (common.Address{}) {
		return Deployment{}, false, nil
	}
	return Deployment{Address: parsed, ChainName: entry.ChainName}, true, nil
}

func loadNetworkOverrides(v *viper.Viper) (map[uint64]NetworkOverride, error) {
	raw := map[string]NetworkOverride{}
	if err := v.UnmarshalKey("relayer.networks", &raw); err != nil {
		return nil, fmt.Errorf("decode relayer networks: %w", err)
	}

	overrides := make(map[uint64]NetworkOverride, len(raw))
	for key, entry := range raw {
		chainID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid relayer network chain id %q: %w", key, err)
		}
		overrides[chainID] = entry
	}

	return overrides, nil
}
