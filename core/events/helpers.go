package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

func hashString(h common.Hash) string {
	return h.Hex()
}

func addressString(a common.Address) string {
	return a.Hex()
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
