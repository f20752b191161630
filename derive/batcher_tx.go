package derive

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/btcleet/op-derive/chain"
)

const senderCacheSize = 2048

// BatcherTxSource filters an L1 block's transactions down to the ones the
// channel bank should ingest: sent to the configured batch inbox, signed
// by the current batch sender. Recovered senders are cached per
// transaction hash in an LRU of senderCacheSize entries, so a transaction
// seen again is not recovered a second time; within one run each L1
// block's transactions are filtered once.
type BatcherTxSource struct {
	signer types.Signer
	cache  *lru.Cache[common.Hash, common.Address]
}

// NewBatcherTxSource returns a source using signer for sender recovery
// (the caller picks the signer matching the L1 chain's configured fork
// rules; recovery itself is chain-agnostic EIP-155/EIP-2930/EIP-1559
// signature math).
func NewBatcherTxSource(signer types.Signer) *BatcherTxSource {
	cache, err := lru.New[common.Hash, common.Address](senderCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which senderCacheSize never is.
		panic(err)
	}
	return &BatcherTxSource{signer: signer, cache: cache}
}

// BatcherCalldata returns the calldata of every L1 transaction in txs that
// is addressed to cfg.BatchInbox and signed by cfg.BatchSender. A
// transaction with a malformed signature (sender unrecoverable) is
// skipped, not fatal: it cannot have been produced by the real batcher.
func (s *BatcherTxSource) BatcherCalldata(cfg chain.ChainConfig, txs types.Transactions) [][]byte {
	var out [][]byte
	for _, tx := range txs {
		if tx.To() == nil || *tx.To() != cfg.BatchInbox {
			continue
		}
		sender, ok := s.recoverSender(tx)
		if !ok {
			continue
		}
		if sender != cfg.BatchSender {
			continue
		}
		out = append(out, tx.Data())
	}
	return out
}

func (s *BatcherTxSource) recoverSender(tx *types.Transaction) (common.Address, bool) {
	hash := tx.Hash()
	if addr, ok := s.cache.Get(hash); ok {
		return addr, true
	}
	addr, err := types.Sender(s.signer, tx)
	if err != nil {
		return common.Address{}, false
	}
	s.cache.Add(hash, addr)
	return addr, true
}
