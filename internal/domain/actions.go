package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type ActionID string

const (
	ActionPublicTransport ActionID = "public-transport"
	ActionRenewableEnergy ActionID = "renewable-energy"
	ActionRecycling       ActionID = "recycling"
	ActionLowCarbonDiet   ActionID = "low-carbon-diet"
	ActionCommunity       ActionID = "community"
)

type GreenActionDefinition struct {
	ID          ActionID `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Weight      uint64   `json:"weight"`
	Bucket      uint8    `json:"bucket"`
	Unit        string   `json:"unit"`
}

var actionCatalogue = []GreenActionDefinition{
	{
		ID:          ActionPublicTransport,
		Label:       "Low-carbon commute",
		Description: "Trips completed with public transport, biking, or walking.",
		Weight:      18,
		Bucket:      0,
		Unit:        "rides",
	},
	{
		ID:          ActionRenewableEnergy,
		Label:       "Renewable energy",
		Description: "kWh sourced from solar, wind, or green tariffs.",
		Weight:      30,
		Bucket:      1,
		Unit:        "kWh",
	},
	{
		ID:          ActionRecycling,
		Label:       "Circular recycling",
		Description: "Kg of waste sorted for recycling or upcycling.",
		Weight:      12,
		Bucket:      2,
		Unit:        "kg",
	},
	{
		ID:          ActionLowCarbonDiet,
		Label:       "Low-carbon meals",
		Description: "Number of plant-based meals replacing meat options.",
		Weight:      10,
		Bucket:      3,
		Unit:        "meals",
	},
	{
		ID:          ActionCommunity,
		Label:       "Community projects",
		Description: "Hours volunteered in environmental activities.",
		Weight:      22,
		Bucket:      4,
		Unit:        "hours",
	},
}

func Actions() []GreenActionDefinition {
	return append([]GreenActionDefinition{}, actionCatalogue...)
}

func FindAction(id ActionID) (GreenActionDefinition, error) {
	for _, action := range actionCatalogue {
		if action.ID == id {
			return action, nil
		}
	}
	return GreenActionDefinition{}, fmt.Errorf("%w: %q", ErrUnknownAction, id)
}

type ActionSubmission struct {
	ActionID ActionID
	Quantity float64
	Note     string
}

// ActionAmounts are the values sent with one submitAction transaction.
type ActionAmounts struct {
	Quantity       uint64
	WeightedPoints uint64
	Bucket         uint8
	NoteHash       common.Hash
}

func ComputeActionAmounts(action GreenActionDefinition, quantity float64, note string) ActionAmounts {
	q := RoundQuantity(quantity)
	points := math.Round(float64(q) * float64(action.Weight))
	if points < 1 {
		points = 1
	}

	return ActionAmounts{
		Quantity:       q,
		WeightedPoints: uint64(points),
		Bucket:         action.Bucket,
		NoteHash:       NoteHash(note),
	}
}

// RoundQuantity rounds to the nearest integer with a floor of one.
func RoundQuantity(quantity float64) uint64 {
	if math.IsNaN(quantity) || math.IsInf(quantity, -1) {
		return 1
	}
	if math.IsInf(quantity, 1) || quantity >= math.MaxUint32 {
		return math.MaxUint32
	}
	rounded := math.Round(quantity)
	if rounded < 1 {
		return 1
	}
	return uint64(rounded)
}

// NoteHash is keccak256 of the trimmed note, or the zero hash for an empty note.
func NoteHash(note string) common.Hash {
	trimmed := strings.TrimSpace(note)
	if trimmed == "" {
		return common.Hash{}
	}
	return crypto.Keccak256Hash([]byte(trimmed))
}
