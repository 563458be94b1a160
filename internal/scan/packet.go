package scan

import (
	"fmt"

	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

// MalformedPacketError reports a packet that cannot be decoded against its
// layout: wrong length, truncated column, or a format marker that disagrees
// with the profile. Decoding errors are recoverable: the caller skips the
// packet and the stream continues.
type MalformedPacketError struct {
	Reason string
}

func (e *MalformedPacketError) Error() string {
	return "malformed packet: " + e.Reason
}

// PacketFormat binds a layout to concrete sensor dimensions. The column and
// packet sizes follow from the layout's region sizes and the dimensions, so a
// single generic decode routine serves every registered profile.
type PacketFormat struct {
	Layout           profile.Layout
	PixelsPerColumn  int
	ColumnsPerPacket int

	// ColumnSize and PacketSize are derived; in bytes.
	ColumnSize int
	PacketSize int
}

// NewPacketFormat computes the derived sizes for layout at the given
// dimensions.
func NewPacketFormat(layout profile.Layout, pixelsPerColumn, columnsPerPacket int) (*PacketFormat, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if pixelsPerColumn <= 0 {
		return nil, fmt.Errorf("pixels per column must be positive, got %d", pixelsPerColumn)
	}
	if columnsPerPacket <= 0 {
		return nil, fmt.Errorf("columns per packet must be positive, got %d", columnsPerPacket)
	}
	colSize := layout.ColHeaderSize + pixelsPerColumn*layout.ChannelDataSize + layout.ColFooterSize
	return &PacketFormat{
		Layout:           layout,
		PixelsPerColumn:  pixelsPerColumn,
		ColumnsPerPacket: columnsPerPacket,
		ColumnSize:       colSize,
		PacketSize:       layout.PacketHeaderSize + columnsPerPacket*colSize + layout.PacketFooterSize,
	}, nil
}

// PacketFormatFromMetadata resolves the metadata's profile id against reg and
// builds the matching format. An unresolvable profile is fatal for the
// stream's startup.
func PacketFormatFromMetadata(md *SensorMetadata, reg *profile.Registry) (*PacketFormat, error) {
	layout, err := reg.Resolve(md.UDPProfile)
	if err != nil {
		return nil, err
	}
	return NewPacketFormat(layout, md.PixelsPerColumn, md.ColumnsPerPacket)
}

// Decode interprets buf as one packet. The returned Packet (and the Columns
// it yields) are read-only views over buf: no bytes are copied, and the
// caller must not reuse buf while a view is live.
func (pf *PacketFormat) Decode(buf []byte) (Packet, error) {
	if len(buf) != pf.PacketSize {
		return Packet{}, &MalformedPacketError{
			Reason: fmt.Sprintf("profile %s: expected %d bytes, got %d", pf.Layout.Name, pf.PacketSize, len(buf)),
		}
	}
	p := Packet{pf: pf, buf: buf}
	if d, ok := pf.Layout.PacketFields[profile.PacketType]; ok && pf.Layout.PacketTypeValue != 0 {
		if got := loadField(buf, d); got != pf.Layout.PacketTypeValue {
			return Packet{}, &MalformedPacketError{
				Reason: fmt.Sprintf("profile %s: packet type marker 0x%x, want 0x%x", pf.Layout.Name, got, pf.Layout.PacketTypeValue),
			}
		}
	}
	return p, nil
}

// Packet is a decoded view over one raw packet buffer.
type Packet struct {
	pf  *PacketFormat
	buf []byte
}

// Columns returns the number of columns in the packet.
func (p Packet) Columns() int { return p.pf.ColumnsPerPacket }

// Column returns a view of the i-th column.
func (p Packet) Column(i int) Column {
	start := p.pf.Layout.PacketHeaderSize + i*p.pf.ColumnSize
	return Column{
		pf:  p.pf,
		buf: p.buf[start : start+p.pf.ColumnSize],
		pkt: p,
	}
}

// FrameID returns the packet-level frame id for layouts that carry one, and
// zero for the legacy layout (which stores it per column).
func (p Packet) FrameID() uint16 {
	if d, ok := p.pf.Layout.PacketFields[profile.PacketFrameID]; ok {
		return uint16(loadField(p.buf, d))
	}
	return 0
}

// InitID returns the sensor initialisation id, or zero if the layout has no
// packet header.
func (p Packet) InitID() uint64 {
	if d, ok := p.pf.Layout.PacketFields[profile.PacketInitID]; ok {
		return loadField(p.buf, d)
	}
	return 0
}

// SerialNumber returns the sensor serial number, or zero if the layout has no
// packet header.
func (p Packet) SerialNumber() uint64 {
	if d, ok := p.pf.Layout.PacketFields[profile.PacketSerialNumber]; ok {
		return loadField(p.buf, d)
	}
	return 0
}

// Column is a read-only view of one azimuth sampling instant within a packet.
type Column struct {
	pf  *PacketFormat
	buf []byte // the column's bytes, header through footer
	pkt Packet
}

// Timestamp returns the sensor timestamp of the column in sensor ticks.
func (c Column) Timestamp() uint64 {
	return c.header(profile.HeaderTimestamp)
}

// MeasurementID returns the column's azimuth index within its revolution.
func (c Column) MeasurementID() uint16 {
	return uint16(c.header(profile.HeaderMeasurementID))
}

// FrameID returns the revolution counter the column belongs to: per column in
// the legacy layout, per packet otherwise.
func (c Column) FrameID() uint16 {
	if c.pf.Layout.HasPerColumnFrameID() {
		return uint16(c.header(profile.HeaderFrameID))
	}
	return c.pkt.FrameID()
}

// Status returns the raw per-column status word.
func (c Column) Status() uint64 {
	return c.header(profile.HeaderStatus)
}

// Valid reports whether the column's status marks its data usable.
func (c Column) Valid() bool {
	return c.Status()&c.pf.Layout.StatusMask == c.pf.Layout.StatusValid
}

// Field extracts the named channel field for pixel px per the layout's
// descriptor. The second return is false when the layout does not declare the
// field.
func (c Column) Field(f profile.ChanField, px int) (uint32, bool) {
	d, ok := c.pf.Layout.Fields[f]
	if !ok {
		return 0, false
	}
	base := c.pf.Layout.ColHeaderSize + px*c.pf.Layout.ChannelDataSize
	return uint32(loadField(c.buf[base:], d)), true
}

// Range extracts the decoded range count (millimetre-scaled per the layout)
// for pixel px.
func (c Column) Range(px int) uint32 {
	v, _ := c.Field(profile.ChanRange, px)
	return v
}

func (c Column) header(h profile.ColHeader) uint64 {
	d, ok := c.pf.Layout.Headers[h]
	if !ok {
		return 0
	}
	if d.Offset < 0 {
		shifted := d
		shifted.Offset = len(c.buf) + d.Offset
		return loadField(c.buf, shifted)
	}
	return loadField(c.buf, d)
}

// loadField loads d.Width little-endian bytes at d.Offset, masks and shifts
// per the descriptor.
func loadField(b []byte, d profile.FieldDescr) uint64 {
	var v uint64
	for i := 0; i < d.Width; i++ {
		v |= uint64(b[d.Offset+i]) << (8 * i)
	}
	if d.Mask != 0 {
		v &= d.Mask
	}
	switch {
	case d.Shift > 0:
		v >>= uint(d.Shift)
	case d.Shift < 0:
		v <<= uint(-d.Shift)
	}
	return v
}
