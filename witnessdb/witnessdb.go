// Package witnessdb implements the preloaded, single-use witness store
// described in spec.md §4.1. It is the boundary between "blocks the host
// fetched over RPC" (out of scope here) and the derivation pipeline: every
// read validates the block's embedded Merkle commitments and removes the
// entry, so a block can never be silently reused.
package witnessdb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/btcleet/op-derive/chain"
	"github.com/btcleet/op-derive/rtrie"
)

// L1Block is a full L1 block as preloaded into the witness DB. Receipts
// are optional: when absent, the header's logs bloom must prove the
// absence of deposit- and system-config-relevant logs (spec.md §4.1).
type L1Block struct {
	Header       *types.Header
	Transactions types.Transactions
	Receipts     types.Receipts // nil if not preloaded
}

// L2Block is a full L2 block as preloaded into the witness DB.
type L2Block struct {
	Header       *types.Header
	Transactions types.Transactions
}

// DB is the read surface the derive machine consumes. Every method
// removes the entry it returns.
type DB interface {
	TakeFullL2(number uint64) (*L2Block, error)
	TakeL2Header(number uint64) (*types.Header, error)
	TakeFullL1(number uint64) (*L1Block, error)
	TakeL1Header(number uint64) (*types.Header, error)
}

// MemDB is an in-memory DB, the only implementation this repo needs since
// witness acquisition (e.g. over RPC) is out of scope: the zkVM host
// harness populates a MemDB directly before the guest runs.
type MemDB struct {
	depositContract      common.Address
	systemConfigContract common.Address

	fullL1     map[uint64]*L1Block
	l1Headers  map[uint64]*types.Header
	fullL2     map[uint64]*L2Block
	l2Headers  map[uint64]*types.Header
}

// NewMemDB returns an empty MemDB configured to check blooms against cfg's
// deposit and system-config contract addresses.
func NewMemDB(cfg chain.ChainConfig) *MemDB {
	return &MemDB{
		depositContract:      cfg.DepositContract,
		systemConfigContract: cfg.SystemConfigContract,
		fullL1:               make(map[uint64]*L1Block),
		l1Headers:            make(map[uint64]*types.Header),
		fullL2:                make(map[uint64]*L2Block),
		l2Headers:             make(map[uint64]*types.Header),
	}
}

// PutFullL1 preloads a full L1 block, to be consumed exactly once by
// TakeFullL1.
func (db *MemDB) PutFullL1(block *L1Block) {
	db.fullL1[block.Header.Number.Uint64()] = block
}

// PutL1Header preloads a bare L1 header, to be consumed exactly once by
// TakeL1Header.
func (db *MemDB) PutL1Header(h *types.Header) {
	db.l1Headers[h.Number.Uint64()] = h
}

// PutFullL2 preloads a full L2 block, to be consumed exactly once by
// TakeFullL2.
func (db *MemDB) PutFullL2(block *L2Block) {
	db.fullL2[block.Header.Number.Uint64()] = block
}

// PutL2Header preloads a bare L2 header, to be consumed exactly once by
// TakeL2Header.
func (db *MemDB) PutL2Header(h *types.Header) {
	db.l2Headers[h.Number.Uint64()] = h
}

func txRoot(txs types.Transactions) (common.Hash, error) {
	encoded := make([][]byte, len(txs))
	for i, tx := range txs {
		b, err := tx.MarshalBinary()
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to encode tx %d: %w", i, err)
		}
		encoded[i] = b
	}
	return rtrie.RootOfIndexed(encoded)
}

func receiptRoot(receipts types.Receipts) (common.Hash, error) {
	encoded := make([][]byte, len(receipts))
	for i, r := range receipts {
		b, err := r.MarshalBinary()
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to encode receipt %d: %w", i, err)
		}
		encoded[i] = b
	}
	return rtrie.RootOfIndexed(encoded)
}

// TakeFullL2 implements DB.
func (db *MemDB) TakeFullL2(number uint64) (*L2Block, error) {
	block, ok := db.fullL2[number]
	if !ok {
		return nil, fmt.Errorf("missing block: full L2 block %d", number)
	}
	delete(db.fullL2, number)

	root, err := txRoot(block.Transactions)
	if err != nil {
		return nil, err
	}
	if root != block.Header.TxHash {
		return nil, fmt.Errorf("inconsistent commitment: L2 block %d transactions root mismatch", number)
	}
	return block, nil
}

// TakeL2Header implements DB.
func (db *MemDB) TakeL2Header(number uint64) (*types.Header, error) {
	h, ok := db.l2Headers[number]
	if !ok {
		return nil, fmt.Errorf("missing block: L2 header %d", number)
	}
	delete(db.l2Headers, number)
	return h, nil
}

// TakeFullL1 implements DB.
func (db *MemDB) TakeFullL1(number uint64) (*L1Block, error) {
	block, ok := db.fullL1[number]
	if !ok {
		return nil, fmt.Errorf("missing block: full L1 block %d", number)
	}
	delete(db.fullL1, number)

	root, err := txRoot(block.Transactions)
	if err != nil {
		return nil, err
	}
	if root != block.Header.TxHash {
		return nil, fmt.Errorf("inconsistent commitment: L1 block %d transactions root mismatch", number)
	}

	if block.Receipts != nil {
		rroot, err := receiptRoot(block.Receipts)
		if err != nil {
			return nil, err
		}
		if rroot != block.Header.ReceiptHash {
			return nil, fmt.Errorf("inconsistent commitment: L1 block %d receipts root mismatch", number)
		}
	} else {
		canDeposit := chain.CanContainLog(block.Header.Bloom, db.depositContract, chain.TransactionDepositedTopic)
		canConfig := chain.CanContainLog(block.Header.Bloom, db.systemConfigContract, chain.ConfigUpdateTopic)
		if canDeposit || canConfig {
			return nil, fmt.Errorf("inconsistent commitment: L1 block %d omits receipts but bloom does not prove absence of deposit/config logs", number)
		}
	}
	return block, nil
}

// TakeL1Header implements DB.
func (db *MemDB) TakeL1Header(number uint64) (*types.Header, error) {
	h, ok := db.l1Headers[number]
	if !ok {
		return nil, fmt.Errorf("missing block: L1 header %d", number)
	}
	delete(db.l1Headers, number)
	return h, nil
}
