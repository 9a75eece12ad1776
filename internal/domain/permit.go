package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const PermitDurationDays = 365

// DecryptPermit is single use. It must never be cached or persisted.
type DecryptPermit struct {
	PrivateKey        string
	PublicKey         string
	Signature         string
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    int64
	DurationDays      int
}

func (p DecryptPermit) ExpiresAt() time.Time {
	return time.Unix(p.StartTimestamp, 0).Add(time.Duration(p.DurationDays) * 24 * time.Hour)
}

func (p DecryptPermit) ValidAt(now time.Time) bool {
	start := time.Unix(p.StartTimestamp, 0)
	return !now.Before(start) && now.Before(p.ExpiresAt())
}
