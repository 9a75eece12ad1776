package eip1193

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/domain"
)

func DecodeAccounts(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}

	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	normalized := make([]string, 0, len(accounts))
	for _, account := range accounts {
		trimmed := strings.TrimSpace(account)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}

	return normalized, nil
}

func DecodeChainID(raw json.RawMessage) (uint64, error) {
	chainID, ok := domain.ParseChainID(raw)
	if !ok {
		return 0, fmt.Errorf("decode chain id %s", string(raw))
	}
	return chainID, nil
}
