// Package inputproof encodes the proof that accompanies encrypted inputs:
// numHandles, numSigners, the 32-byte handles, the 65-byte coprocessor
// signatures and trailing extra data.
package inputproof

import (
	"errors"
	"fmt"
)

const (
	handleSize    = 32
	signatureSize = 65
	maxEntries    = 255
)

var defaultExtraData = []byte{0x00}

type Proof struct {
	Handles    [][32]byte
	Signatures [][]byte
	ExtraData  []byte
}

func Encode(handles [][32]byte, signatures [][]byte) ([]byte, error) {
	if len(handles) > maxEntries || len(signatures) > maxEntries {
		return nil, fmt.Errorf("input proof supports at most %d handles and signers", maxEntries)
	}

	proof := make([]byte, 0, 2+handleSize*len(handles)+signatureSize*len(signatures)+len(defaultExtraData))
	proof = append(proof, byte(len(handles)), byte(len(signatures)))
	for _, handle := range handles {
		proof = append(proof, handle[:]...)
	}
	for idx, signature := range signatures {
		if len(signature) != signatureSize {
			return nil, fmt.Errorf("signature %d has length %d", idx, len(signature))
		}
		proof = append(proof, signature...)
	}
	return append(proof, defaultExtraData...), nil
}

func Decode(raw []byte) (Proof, error) {
	if len(raw) < 2 {
		return Proof{}, errors.New("input proof is truncated")
	}

	numHandles, numSigners := int(raw[0]), int(raw[1])
	body := raw[2:]
	if len(body) < numHandles*handleSize+numSigners*signatureSize {
		return Proof{}, errors.New("input proof is truncated")
	}

	proof := Proof{Handles: make([][32]byte, numHandles), Signatures: make([][]byte, numSigners)}
	for idx := range numHandles {
		copy(proof.Handles[idx][:], body[:handleSize])
		body = body[handleSize:]
	}
	for idx := range numSigners {
		proof.Signatures[idx] = append([]byte{}, body[:signatureSize]...)
		body = body[signatureSize:]
	}
	proof.ExtraData = append([]byte{}, body...)
	return proof, nil
}
