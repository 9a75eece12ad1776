package greenscore

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABIJSON is the client-facing subset of the GreenScore contract. Encrypted
// values travel as bytes32 handles.
const ABIJSON = `[
  {"type":"function","name":"getEncryptedScore","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getEncryptedActionCount","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getEncryptedPendingRewards","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getEncryptedGlobalScore","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getEncryptedGlobalActions","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getBucketAggregate","stateMutability":"view","inputs":[{"name":"bucket","type":"uint8"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getLeaderboardSlot","stateMutability":"view","inputs":[{"name":"slot","type":"uint8"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getPlainActionCount","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"submitAction","stateMutability":"nonpayable","inputs":[
    {"name":"encryptedPoints","type":"bytes32"},
    {"name":"pointsProof","type":"bytes"},
    {"name":"encryptedCount","type":"bytes32"},
    {"name":"countProof","type":"bytes"},
    {"name":"bucket","type":"uint8"},
    {"name":"noteHash","type":"bytes32"},
    {"name":"plainQuantity","type":"uint32"}
  ],"outputs":[]},
  {"type":"function","name":"claimReward","stateMutability":"nonpayable","inputs":[
    {"name":"encryptedAmount","type":"bytes32"},
    {"name":"proof","type":"bytes"}
  ],"outputs":[]}
]`

var parsedABI = mustParseABI(ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("parse GreenScore ABI: " + err.Error())
	}
	return parsed
}
