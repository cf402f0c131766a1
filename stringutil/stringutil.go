package stringutil

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const ShortenLogLength = 16

// ShortenLog shortens a hash string for logging purposes
func ShortenLog(hash string) string {
	indexCut := ShortenLogLength / 2
	if len(hash) <= ShortenLogLength {
		return hash
	}
	return fmt.Sprintf("%s...%s", hash[:indexCut], hash[len(hash)-indexCut:])
}

// ShortHash is ShortenLog over the hex form of h
func ShortHash(h common.Hash) string {
	return ShortenLog(h.Hex())
}

// ShortAddr is ShortenLog over the hex form of addr
func ShortAddr(addr common.Address) string {
	return ShortenLog(addr.Hex())
}
