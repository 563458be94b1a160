package profile

// Built-in profile identifiers. The set is open: firmware revisions add wire
// formats independently of this code, so these are defaults, not an
// enumeration.
const (
	ProfileLegacy  = "LEGACY"
	ProfileLowData = "RNG15_RFL8_NIR8"
	ProfileSingle  = "RNG19_RFL8_SIG16_NIR16"
	ProfileDual    = "RNG19_RFL8_SIG16_NIR16_DUAL"
)

// Layout geometry shared by all post-legacy ("extended UDP") profiles: a
// 32-byte packet header carrying packet type, frame id, init id and serial
// number, 12-byte column headers, no column footer, and a 32-byte packet
// footer.
func eudpLayout(name string, channelDataSize int, fields map[ChanField]FieldDescr) Layout {
	return Layout{
		Name:             name,
		PacketHeaderSize: 32,
		PacketFooterSize: 32,
		ColHeaderSize:    12,
		ColFooterSize:    0,
		ChannelDataSize:  channelDataSize,
		Fields:           fields,
		Headers: map[ColHeader]FieldDescr{
			HeaderTimestamp:     {Offset: 0, Width: 8},
			HeaderMeasurementID: {Offset: 8, Width: 2},
			HeaderStatus:        {Offset: 10, Width: 2},
		},
		PacketFields: map[PacketField]FieldDescr{
			PacketType:         {Offset: 0, Width: 2},
			PacketFrameID:      {Offset: 2, Width: 2},
			PacketInitID:       {Offset: 4, Width: 3},
			PacketSerialNumber: {Offset: 7, Width: 5},
		},
		PacketTypeValue: 0x1,
		StatusMask:      0x1,
		StatusValid:     0x1,
		RangeScale:      0.001, // range counts are millimetres
	}
}

var builtinLayouts = map[string]Layout{
	// The legacy format has no packet header or footer. Each column carries a
	// 16-byte header (timestamp, measurement id, frame id, encoder count) and
	// a 4-byte footer holding the status word; a column is valid only when
	// every status bit is set.
	ProfileLegacy: {
		Name:            ProfileLegacy,
		ColHeaderSize:   16,
		ColFooterSize:   4,
		ChannelDataSize: 12,
		Fields: map[ChanField]FieldDescr{
			ChanRange:        {Offset: 0, Width: 4, Mask: 0x000fffff},
			ChanFlags:        {Offset: 3, Width: 1, Shift: 4},
			ChanReflectivity: {Offset: 4, Width: 2},
			ChanSignal:       {Offset: 6, Width: 2},
			ChanNearIR:       {Offset: 8, Width: 2},
		},
		Headers: map[ColHeader]FieldDescr{
			HeaderTimestamp:     {Offset: 0, Width: 8},
			HeaderMeasurementID: {Offset: 8, Width: 2},
			HeaderFrameID:       {Offset: 10, Width: 2},
			HeaderEncoderCount:  {Offset: 12, Width: 4},
			HeaderStatus:        {Offset: -4, Width: 4},
		},
		StatusMask:  0xffffffff,
		StatusValid: 0xffffffff,
		RangeScale:  0.001,
	},

	// Low-bandwidth format: 4 bytes per pixel. Range is a 15-bit count of
	// 8mm steps, shifted left 3 on decode so downstream sees millimetres.
	ProfileLowData: eudpLayout(ProfileLowData, 4, map[ChanField]FieldDescr{
		ChanRange:        {Offset: 0, Width: 2, Mask: 0x7fff, Shift: -3},
		ChanReflectivity: {Offset: 2, Width: 1},
		ChanNearIR:       {Offset: 3, Width: 1, Shift: -4},
	}),

	// Single-return format: 12 bytes per pixel, 19-bit millimetre range.
	ProfileSingle: eudpLayout(ProfileSingle, 12, map[ChanField]FieldDescr{
		ChanRange:        {Offset: 0, Width: 4, Mask: 0x000fffff},
		ChanFlags:        {Offset: 3, Width: 1, Shift: 4},
		ChanReflectivity: {Offset: 4, Width: 2},
		ChanSignal:       {Offset: 6, Width: 2},
		ChanNearIR:       {Offset: 8, Width: 2},
	}),

	// Dual-return format: 16 bytes per pixel, two 19-bit ranges with their
	// own reflectivity, signal and flag fields.
	ProfileDual: eudpLayout(ProfileDual, 16, map[ChanField]FieldDescr{
		ChanRange:         {Offset: 0, Width: 4, Mask: 0x0007ffff},
		ChanFlags:         {Offset: 2, Width: 1, Mask: 0xf8, Shift: 3},
		ChanReflectivity:  {Offset: 3, Width: 1},
		ChanRange2:        {Offset: 4, Width: 4, Mask: 0x0007ffff},
		ChanFlags2:        {Offset: 6, Width: 1, Mask: 0xf8, Shift: 3},
		ChanReflectivity2: {Offset: 7, Width: 1},
		ChanSignal:        {Offset: 8, Width: 2},
		ChanSignal2:       {Offset: 10, Width: 2},
		ChanNearIR:        {Offset: 12, Width: 2},
	}),
}
