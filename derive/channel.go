package derive

// channel is the mutable reassembly state for one channel id: the frames
// received so far, whether a last frame has arrived, and the L1 block
// number it was first seen in (used for both timeout eviction and
// completion ordering — spec.md §4.5 / §9).
type channel struct {
	id             ChannelID
	firstSeenL1Num uint64
	frames         map[uint16][]byte
	size           uint64
	haveLast       bool
	lastFrameNum   uint16
}

func newChannel(id ChannelID, firstSeenL1Num uint64) *channel {
	return &channel{
		id:             id,
		firstSeenL1Num: firstSeenL1Num,
		frames:         make(map[uint16][]byte),
	}
}

// addFrame inserts f's data, rejecting a frame number already present and
// recording is_last. It does not enforce size/timeout limits; the
// ChannelBank does that across all channels.
func (c *channel) addFrame(f Frame) error {
	if _, ok := c.frames[f.FrameNumber]; ok {
		return NewDropf("duplicate frame number %d for channel %s", f.FrameNumber, c.id)
	}
	if f.IsLast {
		if c.haveLast {
			return NewDropf("channel %s received a second is_last frame", c.id)
		}
		c.haveLast = true
		c.lastFrameNum = f.FrameNumber
	}
	c.frames[f.FrameNumber] = f.Data
	c.size += uint64(len(f.Data))
	return nil
}

// complete reports whether the channel has received its last frame and
// every lower-numbered frame.
func (c *channel) complete() bool {
	if !c.haveLast {
		return false
	}
	for i := uint16(0); i <= c.lastFrameNum; i++ {
		if _, ok := c.frames[i]; !ok {
			return false
		}
	}
	return true
}

// assemble concatenates frame data in frame-number order.
func (c *channel) assemble() []byte {
	out := make([]byte, 0, c.size)
	for i := uint16(0); i <= c.lastFrameNum; i++ {
		out = append(out, c.frames[i]...)
	}
	return out
}
