package relayer

import (
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/config"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Network is the FHE system configuration of one chain.
type Network struct {
	ChainID                            uint64
	Name                               string
	ACLAddress                         common.Address
	KMSVerifierAddress                 common.Address
	InputVerifierAddress               common.Address
	VerifyingContractDecryption        common.Address
	VerifyingContractInputVerification common.Address
	GatewayChainID                     uint64
	RelayerURL                         string
}

const (
	SepoliaChainID uint64 = 11155111
	MainnetChainID uint64 = 1
)

func knownNetworks() map[uint64]Network {
	return map[uint64]Network{
		SepoliaChainID: {
			ChainID:                            SepoliaChainID,
			Name:                               "sepolia",
			ACLAddress:                         common.HexToAddress("0xf0Ffdc93b7E186bC2f8CB3dAA75D86d1930A433D"),
			KMSVerifierAddress:                 common.HexToAddress("0xbE0E383937d564D7FF0BC3b46c51f0bF8d5C311A"),
			InputVerifierAddress:               common.HexToAddress("0xBBC1fFCdc7C316aAAd72E807D9b0272BE8F84DA0"),
			VerifyingContractDecryption:        common.HexToAddress("0x5D8BD78e2ea6bbE41f26dFe9fdaEAa349e077478"),
			VerifyingContractInputVerification: common.HexToAddress("0x483b9dE06E4E4C7D35CCf5837A1668487406D955"),
			GatewayChainID:                     10901,
			RelayerURL:                         "https://relayer.testnet.zama.org",
		},
		// Mainnet is listed without system contracts until they are
		// configured through relayer.networks.1.
		MainnetChainID: {
			ChainID: MainnetChainID,
			Name:    "mainnet",
		},
	}
}

// ResolveNetwork looks chainID up in the built-in table and applies the
// configured overrides. Overrides only patch listed chains.
func ResolveNetwork(chainID uint64, overrides map[uint64]config.NetworkOverride) (Network, error) {
	network, ok := knownNetworks()[chainID]
	if !ok {
		return Network{}, fmt.Errorf("chain %d: %w", chainID, domain.ErrUnsupportedNetwork)
	}

	if override, ok := overrides[chainID]; ok {
		var err error
		network, err = applyOverride(network, override)
		if err != nil {
			return Network{}, fmt.Errorf("relayer.networks.%d: %w", chainID, err)
		}
	}

	if network.ACLAddress == (common.Address{}) {
		return Network{}, fmt.Errorf("chain %d has no ACL address: %w", chainID, domain.ErrMissingNetworkConfig)
	}
	return network, nil
}

func applyOverride(network Network, override config.NetworkOverride) (Network, error) {
	addresses := []struct {
		value  string
		target *common.Address
	}{
		{value: override.ACLAddress, target: &network.ACLAddress},
		{value: override.KMSVerifierAddress, target: &network.KMSVerifierAddress},
		{value: override.InputVerifierAddress, target: &network.InputVerifierAddress},
		{value: override.VerifyingContractDecryption, target: &network.VerifyingContractDecryption},
		{value: override.VerifyingContractInputVerifier, target: &network.VerifyingContractInputVerification},
	}
	for _, address := range addresses {
		trimmed := strings.TrimSpace(address.value)
		if trimmed == "" {
			continue
		}
		if !common.IsHexAddress(trimmed) {
			return Network{}, fmt.Errorf("invalid address %q", trimmed)
		}
		*address.target = common.HexToAddress(trimmed)
	}

	if override.GatewayChainID != 0 {
		network.GatewayChainID = override.GatewayChainID
	}
	if url := strings.TrimSpace(override.RelayerURL); url != "" {
		network.RelayerURL = url
	}
	return network, nil
}
