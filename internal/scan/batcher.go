package scan

import (
	"time"
)

// MismatchPolicy selects how the batcher treats a column whose frame id
// disagrees with the frame in progress when the column's index is already
// populated. That combination indicates reordering across a revolution
// boundary rather than a clean wrap.
type MismatchPolicy int

const (
	// DropColumn discards the disagreeing column and logs a warning. This is
	// the default: a stale column must not punch through into the wrong
	// revolution.
	DropColumn MismatchPolicy = iota
	// ForceComplete emits the in-progress frame immediately and starts a new
	// frame with the disagreeing column.
	ForceComplete
)

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	// Policy for frame-id disagreement on a populated index. Defaults to
	// DropColumn.
	Policy MismatchPolicy
	// Stats, when non-nil, receives column and frame counters.
	Stats *PacketStats
}

// Batcher reassembles a stream of decoded packets into frames. Columns are
// written by measurement id, so arrival order does not determine position: a
// duplicate id overwrites and a gap simply leaves its columns MISSING.
//
// A batcher is single-writer. One ordered packet feed drives one batcher;
// completed frames transfer out through Batch's return value and the batcher
// immediately begins the next frame on an arena buffer, so projection of one
// revolution overlaps reassembly of the next.
type Batcher struct {
	pf     *PacketFormat
	arena  *FrameArena
	policy MismatchPolicy
	stats  *PacketStats

	cur        *Frame
	inProgress bool
}

// NewBatcher builds a batcher producing frames from arena, decoding with pf.
func NewBatcher(pf *PacketFormat, arena *FrameArena, cfg BatcherConfig) *Batcher {
	return &Batcher{
		pf:     pf,
		arena:  arena,
		policy: cfg.Policy,
		stats:  cfg.Stats,
	}
}

// Batch decodes raw as one packet and folds its columns into the frame in
// progress. It returns the frames completed by this packet, in completion
// order; ownership of each transfers to the caller, who releases them back
// to the arena when done. A malformed packet is reported as an error and the
// batcher's state is unchanged; the stream continues with the next packet.
func (b *Batcher) Batch(raw []byte, captureTime time.Time) ([]*Frame, error) {
	p, err := b.pf.Decode(raw)
	if err != nil {
		if b.stats != nil {
			b.stats.AddMalformed()
		}
		return nil, err
	}
	if b.stats != nil {
		b.stats.AddPacket(len(raw))
	}

	var done []*Frame
	for i := 0; i < p.Columns(); i++ {
		c := p.Column(i)
		if !c.Valid() {
			Tracef("skip invalid column: frame=%d measurement=%d status=%#x",
				c.FrameID(), c.MeasurementID(), c.Status())
			continue
		}
		m := int(c.MeasurementID())
		if m >= b.arena.width {
			Opsf("measurement id %d outside frame width %d, dropping column", m, b.arena.width)
			continue
		}
		done = b.batchColumn(c, captureTime, done)
	}
	if b.stats != nil && len(done) > 0 {
		b.stats.AddFrames(len(done))
	}
	return done, nil
}

func (b *Batcher) batchColumn(c Column, captureTime time.Time, done []*Frame) []*Frame {
	fid := c.FrameID()

	if !b.inProgress {
		b.cur = b.arena.Acquire()
		b.cur.FrameID = fid
		b.inProgress = true
	}

	if fid != b.cur.FrameID {
		m := int(c.MeasurementID())
		if b.cur.Status[m] == ColumnValid {
			// Populated index plus a disagreeing frame id means the column
			// was reordered across a revolution boundary.
			switch b.policy {
			case ForceComplete:
				Diagf("frame id %d arrived over populated frame %d, forcing completion",
					fid, b.cur.FrameID)
				done = append(done, b.emit())
			default:
				Diagf("dropping reordered column: frame=%d measurement=%d (in progress: %d)",
					fid, m, b.cur.FrameID)
				return done
			}
		} else {
			// Revolution wrap: the sensor moved on to the next frame.
			done = append(done, b.emit())
		}
		b.cur = b.arena.Acquire()
		b.cur.FrameID = fid
		b.inProgress = true
	}

	b.cur.setColumn(c, captureTime)
	if b.stats != nil {
		b.stats.AddColumns(1)
	}

	// Defensive completion: every column is populated, so the frame is done
	// even if the wrap marker never arrives.
	if b.cur.Complete() {
		done = append(done, b.emit())
	}
	return done
}

// emit hands out the frame in progress and clears the in-progress state.
func (b *Batcher) emit() *Frame {
	f := b.cur
	b.cur = nil
	b.inProgress = false
	Tracef("frame %d complete: %d/%d columns", f.FrameID, f.WrittenColumns(), f.Width)
	return f
}

// Flush emits the partial frame in progress, or nil if none. Used when a
// stream drains (end of a capture file) so the final revolution is not lost.
func (b *Batcher) Flush() *Frame {
	if !b.inProgress {
		return nil
	}
	f := b.emit()
	if b.stats != nil {
		b.stats.AddFrames(1)
	}
	return f
}

// Discard drops any partial frame without emitting it, returning its buffer
// to the arena. Tearing down a batcher mid-frame never emits.
func (b *Batcher) Discard() {
	if !b.inProgress {
		return
	}
	f := b.cur
	b.cur = nil
	b.inProgress = false
	b.arena.Release(f)
}
