package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CanContainLog reports whether bloom could possibly contain a log
// emitted by addr with first topic topic. A false result is a proof of
// absence; a true result is merely inconclusive (bloom filters have false
// positives), matching the short-circuit required by spec.md §4.2.
func CanContainLog(bloom types.Bloom, addr common.Address, topic common.Hash) bool {
	return types.BloomLookup(bloom, addr) && types.BloomLookup(bloom, topic)
}
