package derive

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// DerivationVersion0 is the only batcher-calldata version this pipeline
// understands (spec.md §6): pre-span-batch, pre-blob Bedrock derivation.
const DerivationVersion0 = 0

// ChannelID is the 16-byte channel identifier carried by every frame. It
// is exactly the shape of a RFC 4122 UUID, so uuid.UUID is reused for
// parsing/formatting rather than hand-rolling a [16]byte wrapper.
type ChannelID = uuid.UUID

// Frame is a single piece of a channel's data, per the wire format in
// spec.md §6.
type Frame struct {
	ID          ChannelID
	FrameNumber uint16
	Data        []byte
	IsLast      bool
}

const frameFixedOverhead = 16 + 2 + 4 + 1 // id + frame_number + length + is_last

// ParseFrames decodes a batcher calldata blob (stripped of its version
// prefix by the caller) into an ordered list of frames. A malformed blob
// is rejected in its entirety, never partially — spec.md §6. maxFrameLen
// bounds an individual frame's data length (the configured MAX_FRAME_LEN
// constant).
func ParseFrames(data []byte, maxFrameLen uint64) ([]Frame, error) {
	r := bytes.NewReader(data)
	var frames []Frame
	for r.Len() > 0 {
		if r.Len() < frameFixedOverhead {
			return nil, NewDropf("truncated frame: %d bytes remaining, need at least %d", r.Len(), frameFixedOverhead)
		}
		var f Frame
		if _, err := r.Read(f.ID[:]); err != nil {
			return nil, NewDropf("failed to read channel id: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &f.FrameNumber); err != nil {
			return nil, NewDropf("failed to read frame number: %w", err)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, NewDropf("failed to read frame length: %w", err)
		}
		if uint64(length) > maxFrameLen {
			return nil, NewDropf("frame length %d exceeds max frame length %d", length, maxFrameLen)
		}
		if r.Len() < int(length)+1 {
			return nil, NewDropf("truncated frame data: want %d bytes + is_last, have %d", length, r.Len())
		}
		f.Data = make([]byte, length)
		if _, err := r.Read(f.Data); err != nil {
			return nil, NewDropf("failed to read frame data: %w", err)
		}
		isLast, err := r.ReadByte()
		if err != nil {
			return nil, NewDropf("failed to read is_last: %w", err)
		}
		switch isLast {
		case 0x00:
			f.IsLast = false
		case 0x01:
			f.IsLast = true
		default:
			return nil, NewDropf("invalid is_last byte 0x%02x", isLast)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// ParseBatcherCalldata strips and validates the 1-byte version prefix
// before delegating to ParseFrames. Wrong version or an otherwise
// malformed blob rejects the whole calldata (spec.md §6).
func ParseBatcherCalldata(calldata []byte, maxFrameLen uint64) ([]Frame, error) {
	if len(calldata) == 0 {
		return nil, NewDropf("empty batcher calldata")
	}
	if calldata[0] != DerivationVersion0 {
		return nil, NewDropf("unsupported batcher calldata version 0x%02x", calldata[0])
	}
	return ParseFrames(calldata[1:], maxFrameLen)
}
