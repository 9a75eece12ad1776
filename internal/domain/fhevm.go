package domain

type FhevmStatus string

const (
	FhevmStatusIdle     FhevmStatus = "idle"
	FhevmStatusCreating FhevmStatus = "creating"
	FhevmStatusReady    FhevmStatus = "ready"
	FhevmStatusError    FhevmStatus = "error"
)

const DefaultMockChainID uint64 = 31337

type TxReceipt struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"blockNumber"`
	Status      uint64 `json:"status"`
}

func (r TxReceipt) Succeeded() bool {
	return r.Status == 1
}
