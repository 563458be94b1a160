package scan

import (
	"fmt"
	"sync"
	"time"

	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

// ColumnStatus records whether a frame column was populated during
// reassembly.
type ColumnStatus uint8

const (
	// ColumnMissing marks a column index that was never written before the
	// frame completed, typically lost packets.
	ColumnMissing ColumnStatus = iota
	// ColumnValid marks a populated column.
	ColumnValid
)

// Frame is one reassembled revolution: a Height x Width grid of channel
// values plus per-column headers and statuses. A frame is owned by exactly
// one party at a time. The batcher owns it while filling; ownership moves to
// the consumer on completion and returns to the arena on release.
type Frame struct {
	Width  int // columns per frame
	Height int // pixels (beams) per column

	// FrameID is the sensor's revolution counter for this frame.
	FrameID uint16

	// Per-column headers, indexed by measurement id.
	Timestamps   []uint64
	CaptureTimes []time.Time
	Status       []ColumnStatus

	// fields holds one Height*Width plane per channel field, row-major:
	// value for (pixel, column) lives at pixel*Width + column.
	fields map[profile.ChanField][]uint32

	written int
}

// NewFrame allocates a frame of the given dimensions carrying the listed
// channel fields.
func NewFrame(width, height int, chans []profile.ChanField) *Frame {
	f := &Frame{
		Width:        width,
		Height:       height,
		Timestamps:   make([]uint64, width),
		CaptureTimes: make([]time.Time, width),
		Status:       make([]ColumnStatus, width),
		fields:       make(map[profile.ChanField][]uint32, len(chans)),
	}
	for _, ch := range chans {
		f.fields[ch] = make([]uint32, width*height)
	}
	return f
}

// Fields returns the channel fields this frame carries. The map must not be
// mutated.
func (f *Frame) Fields() map[profile.ChanField][]uint32 { return f.fields }

// Field returns the full plane for ch, or nil if the frame does not carry it.
func (f *Frame) Field(ch profile.ChanField) []uint32 { return f.fields[ch] }

// At returns the value of ch at (pixel, column). It panics on out-of-range
// indices, matching slice semantics.
func (f *Frame) At(ch profile.ChanField, pixel, column int) uint32 {
	return f.fields[ch][pixel*f.Width+column]
}

// setColumn writes one decoded column into the frame at its measurement id.
// Overwriting an already-valid column replaces its values.
func (f *Frame) setColumn(c Column, captureTime time.Time) {
	m := int(c.MeasurementID())
	if f.Status[m] != ColumnValid {
		f.written++
	}
	f.Status[m] = ColumnValid
	f.Timestamps[m] = c.Timestamp()
	f.CaptureTimes[m] = captureTime
	for ch, plane := range f.fields {
		for px := 0; px < f.Height; px++ {
			v, _ := c.Field(ch, px)
			plane[px*f.Width+m] = v
		}
	}
}

// WrittenColumns returns how many distinct columns have been populated.
func (f *Frame) WrittenColumns() int { return f.written }

// MissingColumns returns how many columns were never populated.
func (f *Frame) MissingColumns() int { return f.Width - f.written }

// Complete reports whether every column was populated.
func (f *Frame) Complete() bool { return f.written == f.Width }

// reset clears the frame for reuse without freeing its planes.
func (f *Frame) reset() {
	f.FrameID = 0
	f.written = 0
	for i := range f.Status {
		f.Status[i] = ColumnMissing
		f.Timestamps[i] = 0
		f.CaptureTimes[i] = time.Time{}
	}
	for _, plane := range f.fields {
		for i := range plane {
			plane[i] = 0
		}
	}
}

// FrameArena recycles frame buffers of one fixed geometry. The batcher
// acquires a fresh frame the moment it hands a completed one out, so
// reassembly of the next revolution overlaps projection of the previous one
// without either party allocating per frame.
type FrameArena struct {
	width  int
	height int
	chans  []profile.ChanField

	mu   sync.Mutex
	free []*Frame
}

// NewFrameArena builds an arena producing frames sized for md carrying the
// channel fields declared by layout.
func NewFrameArena(md *SensorMetadata, layout profile.Layout) *FrameArena {
	chans := make([]profile.ChanField, 0, len(layout.Fields))
	for ch := range layout.Fields {
		chans = append(chans, ch)
	}
	return &FrameArena{
		width:  md.ColumnsPerFrame,
		height: md.PixelsPerColumn,
		chans:  chans,
	}
}

// Acquire returns a zeroed frame, reusing a released one when available.
func (a *FrameArena) Acquire() *Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		f := a.free[n-1]
		a.free = a.free[:n-1]
		return f
	}
	return NewFrame(a.width, a.height, a.chans)
}

// Release returns a frame to the arena once its consumer is done with it.
// The frame must have come from this arena.
func (a *FrameArena) Release(f *Frame) {
	if f == nil {
		return
	}
	if f.Width != a.width || f.Height != a.height {
		panic(fmt.Sprintf("scan: released %dx%d frame into %dx%d arena",
			f.Width, f.Height, a.width, a.height))
	}
	f.reset()
	a.mu.Lock()
	a.free = append(a.free, f)
	a.mu.Unlock()
}
