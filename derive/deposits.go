package derive

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/btcleet/op-derive/chain"
)

// userDepositSourceDomain is the source-hash domain tag for deposits
// originating from a TransactionDeposited L1 log (spec.md §4.2), as
// opposed to the L1-attributes deposit's domain tag 1 (see l1_attributes.go).
const userDepositSourceDomain = 0x00

// depositSourceHash implements the two L2 deposit source-hash formulas:
// keccak(0x00*31 || domain || keccak(a || b)), where a/b vary by domain.
func depositSourceHash(domain byte, a, b []byte) common.Hash {
	inner := crypto.Keccak256(a, b)
	var buf [32]byte
	buf[31] = domain
	return crypto.Keccak256Hash(buf[:], inner)
}

// ExtractDeposits decodes every TransactionDeposited log in receipts into a
// deposit transaction, in receipt order with log index as the tie-break
// (spec.md §4.2). It is a no-op if the block's bloom cannot contain a
// matching log.
func ExtractDeposits(cfg chain.ChainConfig, l1BlockHash common.Hash, bloom types.Bloom, receipts types.Receipts) ([]*types.Transaction, error) {
	if !chain.CanContainLog(bloom, cfg.DepositContract, chain.TransactionDepositedTopic) {
		return nil, nil
	}

	var deposits []*types.Transaction
	logIndex := uint32(0)
	for _, receipt := range receipts {
		for _, lg := range receipt.Logs {
			idx := logIndex
			logIndex++
			if lg.Address != cfg.DepositContract {
				continue
			}
			if len(lg.Topics) == 0 || lg.Topics[0] != chain.TransactionDepositedTopic {
				continue
			}
			tx, err := decodeDepositLog(l1BlockHash, idx, lg)
			if err != nil {
				return nil, err
			}
			deposits = append(deposits, tx)
		}
	}
	return deposits, nil
}

// decodeDepositLog decodes a single TransactionDeposited log. Topics are
// (signature, from, to, version); data holds the opaque deposit payload
// whose layout depends on version (spec.md §6).
func decodeDepositLog(l1BlockHash common.Hash, logIndex uint32, lg *types.Log) (*types.Transaction, error) {
	if len(lg.Topics) != 4 {
		return nil, NewCriticalf("TransactionDeposited log has %d topics, want 4", len(lg.Topics))
	}
	from := common.BytesToAddress(lg.Topics[1].Bytes())
	to := common.BytesToAddress(lg.Topics[2].Bytes())
	version := new(big.Int).SetBytes(lg.Topics[3].Bytes())

	var beLogIndex [32]byte
	beLogIndex[28] = byte(logIndex >> 24)
	beLogIndex[29] = byte(logIndex >> 16)
	beLogIndex[30] = byte(logIndex >> 8)
	beLogIndex[31] = byte(logIndex)
	sourceHash := depositSourceHash(userDepositSourceDomain, l1BlockHash[:], beLogIndex[:])

	var depositTx *types.DepositTx
	var err error
	switch version.Uint64() {
	case 0:
		depositTx, err = unpackDepositDataV0(from, to, sourceHash, lg.Data)
	case 1:
		depositTx, err = unpackDepositDataV1(from, to, sourceHash, lg.Data)
	default:
		return nil, NewCriticalf("TransactionDeposited version %s is not 0 or 1", version)
	}
	if err != nil {
		return nil, err
	}
	return types.NewTx(depositTx), nil
}

// unpackDepositDataV0 / unpackDepositDataV1 decode the opaque-data layout
// used by the OptimismPortal contract: mint (32), value (32), gas (8),
// isCreation (1), then calldata. Version 1 is decoded with the same layout.
func unpackDepositDataV0(from, to common.Address, sourceHash common.Hash, data []byte) (*types.DepositTx, error) {
	const fixedLen = 32 + 32 + 8 + 1
	if len(data) < fixedLen {
		return nil, NewCriticalf("deposit opaque data (v0) too short: %d bytes", len(data))
	}
	mint := new(big.Int).SetBytes(data[0:32])
	value := new(big.Int).SetBytes(data[32:64])
	gas := new(big.Int).SetBytes(data[64:72]).Uint64()
	isCreation := data[72] != 0
	calldata := data[73:]

	toPtr := &to
	if isCreation {
		toPtr = nil
	}
	return &types.DepositTx{
		SourceHash: sourceHash,
		From:       from,
		To:         toPtr,
		Mint:       mint,
		Value:      value,
		Gas:        gas,
		IsSystemTx: false,
		Data:       calldata,
	}, nil
}

func unpackDepositDataV1(from, to common.Address, sourceHash common.Hash, data []byte) (*types.DepositTx, error) {
	// Version 1 is not exercised by the configured chain's post-bootstrap
	// history within this pipeline's scope; accept the same layout as v0
	// since no chain in scope has redefined it.
	return unpackDepositDataV0(from, to, sourceHash, data)
}
