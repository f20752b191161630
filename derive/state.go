package derive

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// mustUint256 converts a *big.Int header field (base fee) to a *uint256.Int.
// L1/L2 base fees never approach 2^256, so the conversion cannot overflow
// in practice; a nil input (pre-London headers) becomes zero.
func mustUint256(b *big.Int) *uint256.Int {
	v := new(uint256.Int)
	if b == nil {
		return v
	}
	v.SetFromBig(b)
	return v
}

// Epoch binds an L1 block to the L2 blocks derived against it: its number
// is the L1 block number, and Deposits holds every deposit transaction
// read from that L1 block's receipts (spec.md §3).
type Epoch struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	BaseFee   *uint256.Int
	Deposits  []*types.Transaction
}

// BlockInfo is the minimal description of the L2 safe head tracked by the
// derive machine: only what batch validation needs to check continuity.
type BlockInfo struct {
	Hash      common.Hash
	Number    uint64
	Timestamp uint64
}

// State is the derive machine's mutable bookkeeping, mirroring the Rust
// State in the implementation this pipeline is ported from: the current
// epoch, enough epoch history to validate a batch's epoch_num/epoch_hash
// pair, and the safe head.
type State struct {
	Epoch        Epoch
	EpochHistory map[uint64]Epoch
	SafeHead     BlockInfo

	CurrentL1Number uint64
	CurrentL1Hash   common.Hash
}

// NewState seeds a State from the bootstrap values extracted from the L2
// head's first transaction (spec.md §4.3/Open Questions on bootstrap).
func NewState(epoch Epoch, safeHead BlockInfo) *State {
	s := &State{
		Epoch:        epoch,
		EpochHistory: make(map[uint64]Epoch),
		SafeHead:     safeHead,
	}
	s.EpochHistory[epoch.Number] = epoch
	return s
}

// PushEpoch records a newly observed L1 block as an epoch candidate. Per
// spec.md Data Model, epoch numbers must be pushed in strictly increasing
// order; this is enforced by the caller (DeriveMachine), not here.
func (s *State) PushEpoch(e Epoch) {
	s.EpochHistory[e.Number] = e
}

// EpochByNumber looks up a previously observed epoch for batch validation.
func (s *State) EpochByNumber(number uint64) (Epoch, bool) {
	e, ok := s.EpochHistory[number]
	return e, ok
}

// AdvanceToEpoch makes e the current epoch and records it in the epoch
// history. It does not touch pending deposits or the sequence number:
// DeriveMachine.deriveBlock resets those itself when it adopts a new epoch.
func (s *State) AdvanceToEpoch(e Epoch) {
	s.Epoch = e
	s.EpochHistory[e.Number] = e
}
