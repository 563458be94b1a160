package scan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

// putLE writes val as width little-endian bytes at off.
func putLE(buf []byte, off, width int, val uint64) {
	for i := 0; i < width; i++ {
		buf[off+i] = byte(val >> (8 * i))
	}
}

func mustFormat(t *testing.T, id string, pixels, cols int) *PacketFormat {
	t.Helper()
	layout, err := profile.DefaultRegistry().Resolve(id)
	require.NoError(t, err)
	pf, err := NewPacketFormat(layout, pixels, cols)
	require.NoError(t, err)
	return pf
}

func TestPacketFormatSizes(t *testing.T) {
	tests := []struct {
		id         string
		pixels     int
		cols       int
		colSize    int
		packetSize int
	}{
		// legacy: 16B header + 64*12B pixels + 4B footer
		{profile.ProfileLegacy, 64, 16, 788, 12608},
		// low data: 12B header + 128*4B pixels
		{profile.ProfileLowData, 128, 16, 524, 8448},
		// single: 12B header + 128*12B pixels
		{profile.ProfileSingle, 128, 16, 1548, 24832},
		// dual: 12B header + 128*16B pixels
		{profile.ProfileDual, 128, 16, 2060, 33024},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			pf := mustFormat(t, tt.id, tt.pixels, tt.cols)
			assert.Equal(t, tt.colSize, pf.ColumnSize)
			assert.Equal(t, tt.packetSize, pf.PacketSize)
		})
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	pf := mustFormat(t, profile.ProfileSingle, 64, 16)
	_, err := pf.Decode(make([]byte, pf.PacketSize-1))
	require.Error(t, err)
	var merr *MalformedPacketError
	assert.True(t, errors.As(err, &merr))

	_, err = pf.Decode(make([]byte, pf.PacketSize+100))
	assert.True(t, errors.As(err, &merr))
}

func TestDecodePacketTypeMarker(t *testing.T) {
	pf := mustFormat(t, profile.ProfileSingle, 64, 16)
	buf := make([]byte, pf.PacketSize)

	// Marker missing: rejected.
	_, err := pf.Decode(buf)
	var merr *MalformedPacketError
	require.True(t, errors.As(err, &merr))

	putLE(buf, 0, 2, 0x1)
	_, err = pf.Decode(buf)
	assert.NoError(t, err)
}

func TestDecodeLegacyColumn(t *testing.T) {
	const pixels, cols = 16, 4
	pf := mustFormat(t, profile.ProfileLegacy, pixels, cols)
	buf := make([]byte, pf.PacketSize)

	// Column 2 of the packet.
	col := 2 * pf.ColumnSize
	putLE(buf, col+0, 8, 0xdeadbeef01020304) // timestamp
	putLE(buf, col+8, 2, 511)                // measurement id
	putLE(buf, col+10, 2, 77)                // frame id
	putLE(buf, col+12, 4, 45678)             // encoder count
	putLE(buf, col+pf.ColumnSize-4, 4, 0xffffffff)

	// Pixel 5: 12-byte block.
	px := col + 16 + 5*12
	putLE(buf, px+0, 4, 123456) // range, 20 bits used
	buf[px+3] |= 0xa0           // flags in the top nibble of byte 3
	putLE(buf, px+4, 2, 1717)   // reflectivity
	putLE(buf, px+6, 2, 42000)  // signal
	putLE(buf, px+8, 2, 999)    // near ir

	p, err := pf.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, cols, p.Columns())

	c := p.Column(2)
	assert.Equal(t, uint64(0xdeadbeef01020304), c.Timestamp())
	assert.Equal(t, uint16(511), c.MeasurementID())
	assert.Equal(t, uint16(77), c.FrameID())
	assert.True(t, c.Valid())

	assert.Equal(t, uint32(123456&0xfffff), c.Range(5))
	refl, ok := c.Field(profile.ChanReflectivity, 5)
	require.True(t, ok)
	assert.Equal(t, uint32(1717), refl)
	sig, _ := c.Field(profile.ChanSignal, 5)
	assert.Equal(t, uint32(42000), sig)
	nir, _ := c.Field(profile.ChanNearIR, 5)
	assert.Equal(t, uint32(999), nir)
	flags, _ := c.Field(profile.ChanFlags, 5)
	assert.Equal(t, uint32(0xa), flags)

	// Column 0 was never written; its status word is zero.
	assert.False(t, p.Column(0).Valid())
}

func TestDecodeLowDataScaling(t *testing.T) {
	pf := mustFormat(t, profile.ProfileLowData, 32, 16)
	buf := make([]byte, pf.PacketSize)
	putLE(buf, 0, 2, 0x1)

	col := 32 // first column, after the packet header
	putLE(buf, col+8, 2, 3)
	putLE(buf, col+10, 2, 0x1)

	px := col + 12 + 7*4
	putLE(buf, px+0, 2, 0x7fff) // max 15-bit range count, 8mm steps
	buf[px+2] = 200             // reflectivity
	buf[px+3] = 0x3f            // near ir, scaled up 16x

	p, err := pf.Decode(buf)
	require.NoError(t, err)
	c := p.Column(0)
	assert.True(t, c.Valid())
	assert.Equal(t, uint32(0x7fff<<3), c.Range(7), "range counts are 8mm steps, decoded to mm")
	nir, _ := c.Field(profile.ChanNearIR, 7)
	assert.Equal(t, uint32(0x3f<<4), nir)
	refl, _ := c.Field(profile.ChanReflectivity, 7)
	assert.Equal(t, uint32(200), refl)

	// No signal channel in the low-data profile.
	_, ok := c.Field(profile.ChanSignal, 7)
	assert.False(t, ok)
}

func TestDecodeDualReturns(t *testing.T) {
	pf := mustFormat(t, profile.ProfileDual, 32, 16)
	buf := make([]byte, pf.PacketSize)
	putLE(buf, 0, 2, 0x1) // packet type
	putLE(buf, 2, 2, 902) // packet-level frame id
	putLE(buf, 4, 3, 0x123456)
	putLE(buf, 7, 5, 991234567890)

	col := 32 + 3*pf.ColumnSize
	putLE(buf, col+8, 2, 17)
	putLE(buf, col+10, 2, 0x1)

	px := col + 12 + 0*16
	putLE(buf, px+0, 4, 0x7ffff) // first return, 19-bit range
	buf[px+2] |= 0xf8            // first-return flags
	buf[px+3] = 11               // first-return reflectivity
	putLE(buf, px+4, 4, 0x12345) // second return
	buf[px+6] |= 0xf8
	buf[px+7] = 22
	putLE(buf, px+8, 2, 3001)  // signal
	putLE(buf, px+10, 2, 3002) // signal2
	putLE(buf, px+12, 2, 500)  // near ir

	p, err := pf.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(902), p.FrameID())
	assert.Equal(t, uint64(0x123456), p.InitID())
	assert.Equal(t, uint64(991234567890), p.SerialNumber())

	c := p.Column(3)
	// eUDP layouts carry the frame id once per packet.
	assert.Equal(t, uint16(902), c.FrameID())
	assert.Equal(t, uint16(17), c.MeasurementID())

	assert.Equal(t, uint32(0x7ffff), c.Range(0))
	r2, _ := c.Field(profile.ChanRange2, 0)
	assert.Equal(t, uint32(0x12345&0x7ffff), r2)
	f1, _ := c.Field(profile.ChanFlags, 0)
	f2, _ := c.Field(profile.ChanFlags2, 0)
	assert.Equal(t, uint32(0x1f), f1)
	assert.Equal(t, uint32(0x1f), f2)
	refl2, _ := c.Field(profile.ChanReflectivity2, 0)
	assert.Equal(t, uint32(22), refl2)
	s1, _ := c.Field(profile.ChanSignal, 0)
	s2, _ := c.Field(profile.ChanSignal2, 0)
	assert.Equal(t, uint32(3001), s1)
	assert.Equal(t, uint32(3002), s2)
}

// A decoder built from a freshly registered layout must behave identically to
// a built-in one: the decode path is fully descriptor-driven.
func TestDecodeCustomProfile(t *testing.T) {
	reg := profile.DefaultRegistry()
	custom := profile.Layout{
		Name:            "RNG12_RFL4",
		ColHeaderSize:   12,
		ChannelDataSize: 2,
		Fields: map[profile.ChanField]profile.FieldDescr{
			profile.ChanRange:        {Offset: 0, Width: 2, Mask: 0x0fff},
			profile.ChanReflectivity: {Offset: 1, Width: 1, Mask: 0xf0, Shift: 4},
		},
		Headers: map[profile.ColHeader]profile.FieldDescr{
			profile.HeaderTimestamp:     {Offset: 0, Width: 8},
			profile.HeaderMeasurementID: {Offset: 8, Width: 2},
			profile.HeaderStatus:        {Offset: 10, Width: 2},
		},
		StatusMask:  0x1,
		StatusValid: 0x1,
		RangeScale:  0.001,
	}
	require.NoError(t, reg.Register("RNG12_RFL4", custom))

	layout, err := reg.Resolve("RNG12_RFL4")
	require.NoError(t, err)
	pf, err := NewPacketFormat(layout, 8, 4)
	require.NoError(t, err)
	assert.Equal(t, 12+8*2, pf.ColumnSize)

	buf := make([]byte, pf.PacketSize)
	col := 0
	putLE(buf, col+8, 2, 9)
	putLE(buf, col+10, 2, 0x1)
	px := col + 12 + 2*2
	putLE(buf, px, 2, 0xabcd) // low 12 bits range, high 4 bits reflectivity

	p, err := pf.Decode(buf)
	require.NoError(t, err)
	c := p.Column(0)
	assert.Equal(t, uint16(9), c.MeasurementID())
	assert.Equal(t, uint32(0xbcd), c.Range(2))
	refl, ok := c.Field(profile.ChanReflectivity, 2)
	require.True(t, ok)
	assert.Equal(t, uint32(0xa), refl)
}

func TestNewPacketFormatRejectsBadDims(t *testing.T) {
	layout, err := profile.DefaultRegistry().Resolve(profile.ProfileSingle)
	require.NoError(t, err)
	_, err = NewPacketFormat(layout, 0, 16)
	assert.Error(t, err)
	_, err = NewPacketFormat(layout, 64, -1)
	assert.Error(t, err)
}
