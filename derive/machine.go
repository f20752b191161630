package derive

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"

	"github.com/btcleet/op-derive/chain"
	"github.com/btcleet/op-derive/internal/derivemetrics"
	"github.com/btcleet/op-derive/rtrie"
	"github.com/btcleet/op-derive/witnessdb"
)

// BlockRef is a minimal (number, hash) pair, used both for the public
// output list and for the eth_tail/op_head summary (spec.md §3/§6).
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

// DeriveInput is the public input to a derivation run (spec.md §6).
type DeriveInput struct {
	DB                witnessdb.DB
	OpHeadBlockNo     uint64
	OpDeriveBlockCount uint64
}

// DeriveOutput is the full public commitment a derivation run produces
// (spec.md §6): the last L1 block consumed, the starting L2 block, and
// the ordered list of newly derived L2 blocks.
type DeriveOutput struct {
	EthTail         BlockRef
	OpHead          BlockRef
	DerivedOpBlocks []BlockRef
}

// DeriveMachine is the top-level state machine described in spec.md §4.7:
// for each L1 block it drains deposits and system-config updates and
// feeds batcher data to the channel bank, then drains the batch queue,
// synthesizing system transactions and checking each resulting L2 block
// against its header witness.
type DeriveMachine struct {
	cfg chain.ChainConfig
	db  witnessdb.DB
	log log.Logger
	met derivemetrics.Metrics

	state      *State
	bank       *ChannelBank
	queue      *BatchQueue
	batcherSrc *BatcherTxSource

	opBlockNo    uint64
	opBlockSeqNo uint64
	pending      []*types.Transaction // deposits pending for the next derived block

	derived []BlockRef
}

// NewDeriveMachine constructs a machine. Bootstrap must be called before
// Run.
func NewDeriveMachine(cfg chain.ChainConfig, db witnessdb.DB, l log.Logger, met derivemetrics.Metrics) *DeriveMachine {
	if l == nil {
		l = log.Root()
	}
	if met == nil {
		met = derivemetrics.NoopMetrics{}
	}
	return &DeriveMachine{
		cfg: cfg,
		db:  db,
		log: l,
		met: met,
	}
}

// Bootstrap extracts the starting L1 number/hash/batch_sender/fees/
// sequence-number from the L2 head's first transaction, a
// setL1BlockValues deposit, and verifies the L1 number/hash against the
// supplied L1 header witness (spec.md §4.7 Bootstrap). It must be called
// exactly once, before Run.
func (m *DeriveMachine) Bootstrap(opHeadBlockNo uint64) error {
	head, err := m.db.TakeFullL2(opHeadBlockNo)
	if err != nil {
		return NewCriticalf("bootstrap: %w", err)
	}
	if len(head.Transactions) == 0 {
		return NewCriticalf("bootstrap: L2 head block %d has no transactions", opHeadBlockNo)
	}
	first := head.Transactions[0]
	if first.Type() != types.DepositTxType {
		return NewCriticalf("bootstrap: L2 head block %d's first transaction is not a deposit", opHeadBlockNo)
	}
	values, err := DecodeSetL1BlockValues(first.Data())
	if err != nil {
		return NewCriticalf("bootstrap: %w", err)
	}

	l1Header, err := m.db.TakeL1Header(values.Number)
	if err != nil {
		return NewCriticalf("bootstrap: %w", err)
	}
	if l1Header.Hash() != values.BlockHash {
		return NewCriticalf("bootstrap: L2 head's setL1BlockValues.hash %s does not match supplied L1 header %s at block %d",
			values.BlockHash, l1Header.Hash(), values.Number)
	}

	m.cfg.BatchSender = common.BytesToAddress(values.BatcherHash.Bytes())
	m.cfg.L1FeeOverhead.SetFromBig(values.L1FeeOverhead)
	m.cfg.L1FeeScalar.SetFromBig(values.L1FeeScalar)

	epoch := Epoch{
		Number:    values.Number,
		Hash:      values.BlockHash,
		Timestamp: l1Header.Time,
		BaseFee:   mustUint256(l1Header.BaseFee),
	}
	safeHead := BlockInfo{
		Hash:      head.Header.Hash(),
		Number:    opHeadBlockNo,
		Timestamp: head.Header.Time,
	}

	m.state = NewState(epoch, safeHead)
	m.bank = NewChannelBank(m.cfg)
	m.queue = NewBatchQueue(m.cfg.L2BlockTime, m.cfg.SeqWindowSize, m.cfg.MaxSequencerDrift, m.state)
	m.batcherSrc = NewBatcherTxSource(types.LatestSignerForChainID(m.cfg.L1ChainID))
	m.opBlockNo = opHeadBlockNo
	m.opBlockSeqNo = values.SequenceNumber
	return nil
}

// Run executes the main derivation loop (spec.md §4.7) until count L2
// blocks have been derived, returning the full public output.
func (m *DeriveMachine) Run(count uint64) (*DeriveOutput, error) {
	opHead := BlockRef{Number: m.opBlockNo, Hash: m.state.SafeHead.Hash}
	var lastL1 BlockRef

	for uint64(len(m.derived)) < count {
		l1Number := m.state.CurrentL1Number
		if l1Number == 0 {
			l1Number = m.state.Epoch.Number
		} else {
			l1Number++
		}

		l1Block, err := m.db.TakeFullL1(l1Number)
		if err != nil {
			return nil, NewCriticalf("processing L1 block %d: %w", l1Number, err)
		}
		if m.state.CurrentL1Number != 0 && l1Block.Header.ParentHash != m.state.CurrentL1Hash {
			return nil, NewCriticalf("L1 block %d parent hash does not match previously processed L1 block", l1Number)
		}
		m.state.CurrentL1Number = l1Number
		m.state.CurrentL1Hash = l1Block.Header.Hash()
		lastL1 = BlockRef{Number: l1Number, Hash: m.state.CurrentL1Hash}

		if err := m.processL1Block(l1Number, l1Block); err != nil {
			return nil, err
		}

		if err := m.drainBatchQueue(count); err != nil {
			return nil, err
		}
	}

	return &DeriveOutput{
		EthTail:         lastL1,
		OpHead:          opHead,
		DerivedOpBlocks: m.derived,
	}, nil
}

// processL1Block implements spec.md §4.7 step 1: update system config,
// extract deposits, push the epoch, and feed batcher calldata to the
// channel bank.
func (m *DeriveMachine) processL1Block(l1Number uint64, block *witnessdb.L1Block) error {
	if block.Receipts != nil {
		if err := ApplySystemConfigUpdates(&m.cfg, block.Header.Bloom, block.Receipts); err != nil {
			return err
		}
	}

	var deposits []*types.Transaction
	if block.Receipts != nil {
		d, err := ExtractDeposits(m.cfg, block.Header.Hash(), block.Header.Bloom, block.Receipts)
		if err != nil {
			return err
		}
		deposits = d
	}

	epoch := Epoch{
		Number:    l1Number,
		Hash:      block.Header.Hash(),
		Timestamp: block.Header.Time,
		BaseFee:   mustUint256(block.Header.BaseFee),
		Deposits:  deposits,
	}
	m.state.PushEpoch(epoch)

	calldata := m.batcherSrc.BatcherCalldata(m.cfg, block.Transactions)
	m.bank.IngestL1Block(l1Number, calldata)

	var drops *multierror.Error
	for {
		stream, ok, err := m.bank.NextBatchStream()
		if err != nil {
			m.met.RecordDrop("channel_decompress")
			drops = multierror.Append(drops, err)
			continue
		}
		if !ok {
			break
		}
		batches, err := DecodeBatchStream(stream)
		if err != nil {
			m.met.RecordDrop("batch_decode")
			drops = multierror.Append(drops, err)
			continue
		}
		for _, b := range batches {
			m.queue.AddBatch(b)
		}
	}
	if drops.ErrorOrNil() != nil {
		m.log.Warn("dropped malformed channels/batches while processing L1 block", "l1Number", l1Number, "reasons", drops)
	}
	return nil
}

// drainBatchQueue implements spec.md §4.7 step 2: pull every batch (or
// synthesized empty batch) the queue can currently produce and derive the
// corresponding L2 block, stopping once count blocks have been derived.
func (m *DeriveMachine) drainBatchQueue(count uint64) error {
	for uint64(len(m.derived)) < count {
		batch := m.queue.NextBatch()
		if batch == nil {
			nextEpoch, ok := m.state.EpochByNumber(m.state.Epoch.Number + 1)
			if !ok || !m.queue.NextEmptySlotEpoch(nextEpoch) {
				return nil // nothing more to derive from this L1 block yet
			}
			batch = &Batch{
				ParentHash: m.state.SafeHead.Hash,
				EpochNum:   nextEpoch.Number,
				EpochHash:  nextEpoch.Hash,
				Timestamp:  m.state.SafeHead.Timestamp + m.cfg.L2BlockTime,
			}
		}
		if err := m.deriveBlock(batch); err != nil {
			return err
		}
	}
	return nil
}

// deriveBlock implements the body of spec.md §4.7 step 2: epoch
// advancement, system-transaction synthesis, expected transaction list
// assembly, and the transactions-root check against the L2 header
// witness.
func (m *DeriveMachine) deriveBlock(batch *Batch) error {
	m.opBlockNo++

	if batch.EpochNum == m.state.Epoch.Number+1 {
		newEpoch, ok := m.state.EpochByNumber(batch.EpochNum)
		if !ok {
			return NewCriticalf("batch references epoch %d which was never observed", batch.EpochNum)
		}
		m.state.AdvanceToEpoch(newEpoch)
		m.opBlockSeqNo = 0
		m.pending = newEpoch.Deposits
	} else {
		m.opBlockSeqNo++
		m.pending = nil
	}

	sysTx, err := BuildL1AttributesTx(m.state.Epoch, m.opBlockSeqNo, m.cfg.BatchSender, m.cfg.L1FeeOverhead, m.cfg.L1FeeScalar)
	if err != nil {
		return err
	}
	sysTxBytes, err := sysTx.MarshalBinary()
	if err != nil {
		return NewCriticalf("failed to encode L1-attributes transaction: %w", err)
	}

	expected := make([][]byte, 0, 1+len(m.pending)+len(batch.Transactions))
	expected = append(expected, sysTxBytes)
	for _, dep := range m.pending {
		depBytes, err := dep.MarshalBinary()
		if err != nil {
			return NewCriticalf("failed to encode deposit transaction: %w", err)
		}
		expected = append(expected, depBytes)
	}
	expected = append(expected, batch.Transactions...)

	l2Header, err := m.db.TakeL2Header(m.opBlockNo)
	if err != nil {
		return NewCriticalf("deriving L2 block %d: %w", m.opBlockNo, err)
	}
	if l2Header.ParentHash != m.state.SafeHead.Hash {
		return NewCriticalf("L2 block %d parent hash %s does not match safe head %s", m.opBlockNo, l2Header.ParentHash, m.state.SafeHead.Hash)
	}

	root, err := rtrie.RootOfIndexed(expected)
	if err != nil {
		return NewCriticalf("failed to compute expected transactions root for L2 block %d: %w", m.opBlockNo, err)
	}
	if root != l2Header.TxHash {
		return NewCriticalf("L2 block %d transactions root mismatch: derived %s, witness %s", m.opBlockNo, root, l2Header.TxHash)
	}

	newHash := l2Header.Hash()
	m.state.SafeHead = BlockInfo{Hash: newHash, Number: m.opBlockNo, Timestamp: l2Header.Time}
	m.derived = append(m.derived, BlockRef{Number: m.opBlockNo, Hash: newHash})
	m.met.RecordDerivedBlock(m.opBlockNo)
	return nil
}
