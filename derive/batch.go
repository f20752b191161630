package derive

import (
	"bytes"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

const batchVersion0 = 0

// Batch is the sequencer's record of one L2 block's ordered user
// transactions plus its parent linkage and epoch reference (spec.md §3,
// §9). Transactions are kept as raw EIP-2718 bytes: the batch queue never
// needs to decode them, only to count bytes and reject deposit-typed
// payloads.
type Batch struct {
	ParentHash   common.Hash
	EpochNum     uint64
	EpochHash    common.Hash
	Timestamp    uint64
	Transactions [][]byte
}

// batchRLP mirrors Batch's field order for RLP encode/decode; Batch itself
// is not RLP-tagged so callers outside this file don't have to think about
// the wire representation.
type batchRLP struct {
	ParentHash   common.Hash
	EpochNum     uint64
	EpochHash    common.Hash
	Timestamp    uint64
	Transactions [][]byte
}

// DepositTxType is the EIP-2718 type byte of a deposit transaction. Batch
// payloads must never contain one (spec.md §4.6 rule 5): deposits come
// only from L1 events.
const DepositTxType = 0x7E

// DecodeBatchStream splits the decompressed channel payload (spec.md §9)
// into its constituent batches. Each item is a 1-byte version prefix
// (must be 0x00) followed by the RLP list described in spec.md §9. Stream
// items are read back-to-back with rlp.Stream since RLP does not
// self-delimit a list-of-lists without a top-level wrapper.
func DecodeBatchStream(data []byte) ([]*Batch, error) {
	var batches []*Batch
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		version, err := r.ReadByte()
		if err != nil {
			return nil, NewDropf("failed to read batch version prefix: %w", err)
		}
		if version != batchVersion0 {
			return nil, NewDropf("unsupported batch version 0x%02x", version)
		}

		stream := rlp.NewStream(r, 0)
		var raw batchRLP
		if err := stream.Decode(&raw); err != nil {
			if err == io.EOF {
				return nil, NewDropf("truncated batch stream: missing batch body after version prefix")
			}
			return nil, NewDropf("failed to decode batch: %w", err)
		}
		for i, tx := range raw.Transactions {
			if len(tx) > 0 && tx[0] == DepositTxType {
				return nil, NewDropf("batch transaction %d is a deposit transaction, which is forbidden in batch payloads", i)
			}
		}
		batches = append(batches, &Batch{
			ParentHash:   raw.ParentHash,
			EpochNum:     raw.EpochNum,
			EpochHash:    raw.EpochHash,
			Timestamp:    raw.Timestamp,
			Transactions: raw.Transactions,
		})
	}
	return batches, nil
}
