// Package profile describes the wire-format variants ("profiles") emitted by
// spinning range sensors as declarative field-layout descriptors, and provides
// an open registry mapping profile identifiers to layouts.
//
// A profile declares which per-pixel fields exist in a column (range,
// reflectivity, signal, near-infrared, second-return variants) and where each
// field lives: byte offset, width, mask and shift. One generic decode routine
// in the scan package consumes these descriptors, so new firmware formats are
// added by registering a layout rather than by writing a new decoder.
package profile

import "fmt"

// ChanField names a per-pixel channel field within a column.
type ChanField string

const (
	ChanRange         ChanField = "RANGE"
	ChanRange2        ChanField = "RANGE2"
	ChanReflectivity  ChanField = "REFLECTIVITY"
	ChanReflectivity2 ChanField = "REFLECTIVITY2"
	ChanSignal        ChanField = "SIGNAL"
	ChanSignal2       ChanField = "SIGNAL2"
	ChanNearIR        ChanField = "NEAR_IR"
	ChanFlags         ChanField = "FLAGS"
	ChanFlags2        ChanField = "FLAGS2"
)

// ColHeader names a per-column header (or footer) field.
type ColHeader string

const (
	HeaderTimestamp     ColHeader = "TIMESTAMP"
	HeaderMeasurementID ColHeader = "MEASUREMENT_ID"
	HeaderFrameID       ColHeader = "FRAME_ID" // per-column only in the legacy layout
	HeaderEncoderCount  ColHeader = "ENCODER_COUNT"
	HeaderStatus        ColHeader = "STATUS"
)

// PacketField names a packet-level header field (present only in layouts with
// a non-zero packet header).
type PacketField string

const (
	PacketType         PacketField = "PACKET_TYPE"
	PacketFrameID      PacketField = "FRAME_ID"
	PacketInitID       PacketField = "INIT_ID"
	PacketSerialNumber PacketField = "SERIAL_NUMBER"
)

// FieldDescr declares where a field lives within its enclosing region and how
// to decode it. Width bytes are loaded little-endian, the mask (if non-zero)
// is applied, then the value is shifted: Shift > 0 shifts right, Shift < 0
// shifts left (scaling raw counts up, e.g. 8mm range counts to millimetres).
//
// For column-header fields a negative Offset addresses from the end of the
// column, which is how the legacy layout places its status word in the column
// footer.
type FieldDescr struct {
	Offset int
	Width  int // 1..8 bytes, little-endian
	Mask   uint64
	Shift  int
}

// Layout is a declarative descriptor of one wire-format variant. All sizes
// are in bytes. The total column and packet sizes are functions of the layout
// and the sensor dimensions (pixels per column, columns per packet); see the
// scan package's PacketFormat.
type Layout struct {
	Name string

	PacketHeaderSize int
	PacketFooterSize int
	ColHeaderSize    int
	ColFooterSize    int
	ChannelDataSize  int

	// Fields maps channel fields to their descriptor, with offsets relative
	// to the start of the pixel's channel-data block.
	Fields map[ChanField]FieldDescr

	// Headers maps column-header fields to their descriptor, with offsets
	// relative to the column start (negative: relative to the column end).
	Headers map[ColHeader]FieldDescr

	// PacketFields maps packet-level header fields to their descriptor, with
	// offsets relative to the packet start. Empty for headerless layouts.
	PacketFields map[PacketField]FieldDescr

	// PacketTypeValue, when non-zero, is the expected value of the
	// PacketType field; decoding rejects packets whose marker disagrees.
	PacketTypeValue uint64

	// Column validity: a column is usable iff status&StatusMask == StatusValid.
	StatusMask  uint64
	StatusValid uint64

	// RangeScale converts decoded range counts to metres. Variable range
	// encodings are expressed as (raw, scale, unit) via the RANGE
	// descriptor's mask/shift plus this scale, never ad hoc bit twiddling.
	RangeScale float64
}

// Validate checks that the layout's descriptors are internally consistent:
// every channel field fits within the channel-data block and every
// column-header field fits within the header (or footer) it addresses.
func (l Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("layout has no name")
	}
	if l.ChannelDataSize <= 0 {
		return fmt.Errorf("layout %s: channel data size must be positive, got %d", l.Name, l.ChannelDataSize)
	}
	if l.RangeScale <= 0 {
		return fmt.Errorf("layout %s: range scale must be positive, got %g", l.Name, l.RangeScale)
	}
	for name, d := range l.Fields {
		if err := checkDescr(d); err != nil {
			return fmt.Errorf("layout %s: field %s: %w", l.Name, name, err)
		}
		if d.Offset < 0 || d.Offset+d.Width > l.ChannelDataSize {
			return fmt.Errorf("layout %s: field %s spans [%d,%d) outside channel data of %d bytes",
				l.Name, name, d.Offset, d.Offset+d.Width, l.ChannelDataSize)
		}
	}
	for name, d := range l.Headers {
		if err := checkDescr(d); err != nil {
			return fmt.Errorf("layout %s: header %s: %w", l.Name, name, err)
		}
		if d.Offset >= 0 && d.Offset+d.Width > l.ColHeaderSize {
			return fmt.Errorf("layout %s: header %s spans [%d,%d) outside column header of %d bytes",
				l.Name, name, d.Offset, d.Offset+d.Width, l.ColHeaderSize)
		}
		if d.Offset < 0 && -d.Offset > l.ColFooterSize {
			return fmt.Errorf("layout %s: header %s offset %d outside column footer of %d bytes",
				l.Name, name, d.Offset, l.ColFooterSize)
		}
	}
	for name, d := range l.PacketFields {
		if err := checkDescr(d); err != nil {
			return fmt.Errorf("layout %s: packet field %s: %w", l.Name, name, err)
		}
		if d.Offset < 0 || d.Offset+d.Width > l.PacketHeaderSize {
			return fmt.Errorf("layout %s: packet field %s spans [%d,%d) outside packet header of %d bytes",
				l.Name, name, d.Offset, d.Offset+d.Width, l.PacketHeaderSize)
		}
	}
	if _, ok := l.Headers[HeaderMeasurementID]; !ok {
		return fmt.Errorf("layout %s: missing required MEASUREMENT_ID header", l.Name)
	}
	if _, ok := l.Headers[HeaderStatus]; !ok {
		return fmt.Errorf("layout %s: missing required STATUS header", l.Name)
	}
	if _, ok := l.Fields[ChanRange]; !ok {
		return fmt.Errorf("layout %s: missing required RANGE field", l.Name)
	}
	return nil
}

func checkDescr(d FieldDescr) error {
	if d.Width < 1 || d.Width > 8 {
		return fmt.Errorf("width %d out of range [1,8]", d.Width)
	}
	return nil
}

// HasPerColumnFrameID reports whether the layout carries the frame id in each
// column header (legacy) rather than once per packet.
func (l Layout) HasPerColumnFrameID() bool {
	_, ok := l.Headers[HeaderFrameID]
	return ok
}
