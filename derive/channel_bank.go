package derive

import (
	"bytes"
	"compress/zlib"
	"io"

	"golang.org/x/exp/slices"

	"github.com/btcleet/op-derive/chain"
)

// ChannelBank reassembles frames into complete channels and hands back
// their decompressed batch streams in the deterministic order required by
// spec.md §4.5: ascending first-seen L1 block number, ties broken by
// channel id byte order. It owns eviction on size and timeout, mirroring
// the teacher's ChannelBank/ChannelOut pairing but collapsed into a single
// read-side component since batcher-tx production is out of scope here.
type ChannelBank struct {
	cfg chain.ChainConfig

	channels  map[ChannelID]*channel
	completed []ChannelID // channel ids whose frames are all present, not yet read
}

// NewChannelBank returns an empty bank governed by cfg's MaxChannelSize and
// ChannelTimeout.
func NewChannelBank(cfg chain.ChainConfig) *ChannelBank {
	return &ChannelBank{
		cfg:      cfg,
		channels: make(map[ChannelID]*channel),
	}
}

// IngestL1Block feeds every batcher-inbox calldata blob seen in L1 block
// l1Num through frame parsing and reassembly. A malformed blob or frame
// drops just that blob (spec.md §6); it never aborts the block.
func (b *ChannelBank) IngestL1Block(l1Num uint64, calldataBlobs [][]byte) {
	for _, blob := range calldataBlobs {
		frames, err := ParseBatcherCalldata(blob, b.cfg.MaxFrameLen)
		if err != nil {
			continue
		}
		for _, f := range frames {
			b.addFrame(l1Num, f)
		}
	}
	b.prune(l1Num)
}

func (b *ChannelBank) addFrame(l1Num uint64, f Frame) {
	ch, ok := b.channels[f.ID]
	if !ok {
		ch = newChannel(f.ID, l1Num)
		b.channels[f.ID] = ch
	}
	if err := ch.addFrame(f); err != nil {
		return // duplicate/conflicting frame: drop just this frame
	}
	if ch.size > b.cfg.MaxChannelSize {
		delete(b.channels, f.ID)
		return
	}
	if ch.complete() {
		b.completed = append(b.completed, f.ID)
	}
}

// prune evicts channels whose first-seen L1 block is more than
// ChannelTimeout blocks behind l1Num, per spec.md §4.5. A timed-out
// channel is simply discarded, complete or not: its batches are lost, not
// fatal to the run.
func (b *ChannelBank) prune(l1Num uint64) {
	for id, ch := range b.channels {
		if l1Num > ch.firstSeenL1Num+b.cfg.ChannelTimeout {
			delete(b.channels, id)
		}
	}
	if len(b.completed) > 0 {
		kept := b.completed[:0]
		for _, id := range b.completed {
			if _, ok := b.channels[id]; ok {
				kept = append(kept, id)
			}
		}
		b.completed = kept
	}
}

// NextBatchStream pops the next completed channel in deterministic order
// and returns its decompressed, RLP-encoded batch stream. ok is false when
// no channel is currently complete.
func (b *ChannelBank) NextBatchStream() (data []byte, ok bool, err error) {
	if len(b.completed) == 0 {
		return nil, false, nil
	}
	slices.SortFunc(b.completed, func(x, y ChannelID) bool {
		chx, chy := b.channels[x], b.channels[y]
		if chx.firstSeenL1Num != chy.firstSeenL1Num {
			return chx.firstSeenL1Num < chy.firstSeenL1Num
		}
		return bytes.Compare(x[:], y[:]) < 0
	})

	id := b.completed[0]
	b.completed = b.completed[1:]
	ch := b.channels[id]
	delete(b.channels, id)

	compressed := ch.assemble()
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, true, NewDropf("channel %s: invalid zlib stream: %w", id, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, true, NewDropf("channel %s: zlib decompression failed: %w", id, err)
	}
	return out, true, nil
}
