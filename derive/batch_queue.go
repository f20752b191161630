package derive

// BatchQueue buffers decoded batches and emits them in strict L2
// timestamp order, validating each against the current safe head and
// epoch window (spec.md §4.6). Batches arrive already ordered by channel
// completion (the ChannelBank's job); ties for the same slot are broken
// by that arrival order, so the queue need only remember the first batch
// that validated for a given slot.
type BatchQueue struct {
	cfg   batchQueueConfig
	state *State

	pending []*Batch // batches not yet consumed, in arrival order
}

// batchQueueConfig is the slice of chain.ChainConfig the queue needs,
// named locally to avoid importing the chain package just for three
// scalar fields.
type batchQueueConfig struct {
	L2BlockTime       uint64
	SeqWindowSize     uint64
	MaxSequencerDrift uint64
}

// NewBatchQueue returns a queue bound to state, which it reads but never
// mutates (the derive machine owns state transitions).
func NewBatchQueue(l2BlockTime, seqWindowSize, maxSequencerDrift uint64, state *State) *BatchQueue {
	return &BatchQueue{
		cfg: batchQueueConfig{
			L2BlockTime:       l2BlockTime,
			SeqWindowSize:     seqWindowSize,
			MaxSequencerDrift: maxSequencerDrift,
		},
		state: state,
	}
}

// AddBatch enqueues a decoded batch for later validation. No check is made
// here: every rule, including the transaction-list size bound, is applied
// by NextBatch against the live safe head.
func (q *BatchQueue) AddBatch(b *Batch) {
	q.pending = append(q.pending, b)
}

// maxBatchTxBytes bounds the total size of a batch's transaction list. It
// is a fixed bound, independent of the configured MaxChannelSize and
// MaxFrameLen.
const maxBatchTxBytes = 10_000_000

// NextBatch returns the next valid batch for the upcoming L2 slot, or nil
// if none is available and an empty batch must be synthesized by the
// caller. It never blocks: "not yet available" and "exhausted, synthesize
// empty" are both nil returns, distinguished by the caller's own epoch
// drift check (spec.md §4.6).
func (q *BatchQueue) NextBatch() *Batch {
	wantTimestamp := q.state.SafeHead.Timestamp + q.cfg.L2BlockTime

	for i, b := range q.pending {
		if !q.validBatch(b, wantTimestamp) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return b
	}
	return nil
}

// validBatch applies the five ordered rules of spec.md §4.6.
func (q *BatchQueue) validBatch(b *Batch, wantTimestamp uint64) bool {
	if b.ParentHash != q.state.SafeHead.Hash {
		return false
	}
	if b.Timestamp != wantTimestamp {
		return false
	}
	if b.EpochNum < q.state.Epoch.Number || b.EpochNum >= q.state.Epoch.Number+q.cfg.SeqWindowSize {
		return false
	}
	epoch, ok := q.state.EpochByNumber(b.EpochNum)
	if !ok || epoch.Hash != b.EpochHash {
		return false
	}
	if b.Timestamp < epoch.Timestamp {
		return false
	}
	if b.Timestamp > epoch.Timestamp+q.cfg.MaxSequencerDrift {
		if !epochWindowExhausted(q.state, epoch, q.cfg.SeqWindowSize) {
			return false
		}
	}
	var size int
	for _, tx := range b.Transactions {
		size += len(tx)
		if len(tx) > 0 && tx[0] == DepositTxType {
			return false
		}
	}
	if size > maxBatchTxBytes {
		return false
	}
	return true
}

// epochWindowExhausted reports whether epoch's sequencer window has
// closed with no batch referencing it, the condition under which the
// sequencer-drift bound relaxes (spec.md §4.6). The bound relaxes as soon
// as the next epoch is known, not after a full seqWindowSize has elapsed:
// this mirrors op-node's checkSingularBatch, which looks only one L1
// origin ahead.
func epochWindowExhausted(state *State, epoch Epoch, seqWindowSize uint64) bool {
	_, ok := state.EpochByNumber(epoch.Number + 1)
	return ok
}

// NextEmptySlotEpoch decides, when NextBatch returns nil, whether the
// caller should synthesize an empty batch for the next epoch: true once
// the current epoch's window is exhausted, i.e. the safe head's timestamp
// has reached the following epoch's timestamp (spec.md §4.6; see
// DESIGN.md for the resolution of the spec's open question on this edge).
func (q *BatchQueue) NextEmptySlotEpoch(nextEpoch Epoch) bool {
	return q.state.SafeHead.Timestamp >= nextEpoch.Timestamp
}
