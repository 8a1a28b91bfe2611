package helper

import (
	"crypto/rand"
	"math/big"
)

// ClientPrefix marks our peer IDs, Azureus style.
const ClientPrefix = "-AL0001-"

const symbols = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

func GeneratePeerID() [20]byte {
	peerID := [20]byte{}
	n := copy(peerID[:], ClientPrefix)
	copy(peerID[n:], GenerateRandomID(len(peerID)-n))
	return peerID
}

func GenerateRandomID(size int) []byte {
	id := make([]byte, size)
	max := big.NewInt(int64(len(symbols)))
	for i := 0; i < size; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		id[i] = symbols[n.Int64()]
	}
	return id
}
