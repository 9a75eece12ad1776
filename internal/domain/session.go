package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type WalletStatus string

const (
	WalletStatusIdle         WalletStatus = "idle"
	WalletStatusReconnecting WalletStatus = "reconnecting"
	WalletStatusConnecting   WalletStatus = "connecting"
	WalletStatusConnected    WalletStatus = "connected"
	WalletStatusError        WalletStatus = "error"
)

// InjectedConnectorID identifies the fallback provider when no announced
// provider matches.
const InjectedConnectorID = "injected"

type SessionSnapshot struct {
	Accounts        []string
	ChainID         *uint64
	LastConnectorID string
}

func (s SessionSnapshot) ActiveAccount() string {
	if len(s.Accounts) == 0 {
		return ""
	}
	return s.Accounts[0]
}

func (s SessionSnapshot) Clone() SessionSnapshot {
	clone := SessionSnapshot{LastConnectorID: s.LastConnectorID}
	if s.Accounts != nil {
		clone.Accounts = append([]string{}, s.Accounts...)
	}
	if s.ChainID != nil {
		chainID := *s.ChainID
		clone.ChainID = &chainID
	}
	return clone
}

// SnapshotPatch lists the fields to overwrite. Nil fields are left untouched.
type SnapshotPatch struct {
	Accounts        *[]string
	ChainID         *uint64
	ClearChainID    bool
	LastConnectorID *string
}

func (s SessionSnapshot) Apply(patch SnapshotPatch) SessionSnapshot {
	next := s.Clone()
	if patch.Accounts != nil {
		next.Accounts = append([]string{}, (*patch.Accounts)...)
	}
	if patch.ClearChainID {
		next.ChainID = nil
	}
	if patch.ChainID != nil {
		chainID := *patch.ChainID
		next.ChainID = &chainID
	}
	if patch.LastConnectorID != nil {
		next.LastConnectorID = *patch.LastConnectorID
	}
	return next
}

type WalletState struct {
	Snapshot     SessionSnapshot
	Status       WalletStatus
	ProviderName string
	Error        string
}

func (s WalletState) Connected() bool {
	return s.Status == WalletStatusConnected && len(s.Snapshot.Accounts) > 0
}

// ParseChainID accepts "0x"-prefixed hex strings, decimal strings and JSON
// numbers as delivered by wallet providers.
func ParseChainID(raw any) (uint64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		return ParseChainID(v.String())
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return 0, false
		}
		return ParseChainID(decoded)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
			parsed, err := strconv.ParseUint(trimmed[2:], 16, 64)
			if err != nil {
				return 0, false
			}
			return parsed, true
		}
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
