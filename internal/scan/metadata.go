package scan

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

// MetadataErrorKind classifies metadata document failures.
type MetadataErrorKind int

const (
	MissingField MetadataErrorKind = iota
	TypeMismatch
	OutOfRange
	UnsupportedVersion
)

func (k MetadataErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case TypeMismatch:
		return "type mismatch"
	case OutOfRange:
		return "out of range"
	case UnsupportedVersion:
		return "unsupported version"
	}
	return "unknown"
}

// MetadataError reports an invalid, missing, or incompatible field in a
// sensor metadata document. Metadata errors are fatal at initialization; the
// pipeline does not start on a bad document.
type MetadataError struct {
	Kind   MetadataErrorKind
	Field  string
	Detail string
}

func (e *MetadataError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("metadata: %s: %s", e.Field, e.Kind)
	}
	return fmt.Sprintf("metadata: %s: %s: %s", e.Field, e.Kind, e.Detail)
}

func metaErr(kind MetadataErrorKind, field, format string, args ...any) error {
	return &MetadataError{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// supportedColumnsPerFrame is the set of horizontal resolutions the sensor
// family produces.
var supportedColumnsPerFrame = map[int]bool{512: true, 1024: true, 2048: true, 4096: true}

// Default geometry per product line, used when legacy documents omit the
// calibrated values. Altitude field of view is the full vertical span in
// degrees; the origin offset is the radial distance from the lidar origin to
// the beam origin in millimetres.
type productDefaults struct {
	altitudeFOV  float64
	originToBeam float64
}

var productLineDefaults = map[string]productDefaults{
	"OS-0": {altitudeFOV: 90.0, originToBeam: 27.67},
	"OS-1": {altitudeFOV: 33.222, originToBeam: 15.806},
	"OS-2": {altitudeFOV: 22.5, originToBeam: 13.762},
}

// fallbackDefaults applies when the product line is absent or unrecognized.
var fallbackDefaults = productDefaults{altitudeFOV: 33.222, originToBeam: 12.163}

// SensorMetadata is the validated geometry and framing configuration of one
// sensor. Dimensions are fixed for the lifetime of the instance; every frame
// and lookup table built from it shares them.
type SensorMetadata struct {
	SchemaVersion int
	SerialNumber  string
	ProductLine   string
	LidarMode     string
	UDPProfile    string

	PixelsPerColumn  int
	ColumnsPerFrame  int
	ColumnsPerPacket int

	// Beam angles in degrees, one entry per beam.
	BeamAltitudeAngles []float64
	BeamAzimuthAngles  []float64

	// LidarOriginToBeamOriginMM is the radial offset from the rotation axis
	// to the beam emission point, in millimetres.
	LidarOriginToBeamOriginMM float64

	// LidarToSensorTransform is a row-major 4x4 homogeneous transform from
	// the lidar frame to the sensor frame.
	LidarToSensorTransform [16]float64
}

// ParseMetadataJSON decodes raw JSON and parses it as a metadata document.
func ParseMetadataJSON(raw []byte) (*SensorMetadata, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("metadata: decode json: %w", err)
	}
	return ParseMetadata(doc)
}

// ParseMetadata validates a semantic metadata document and fills in the
// documented defaults for fields that older schema versions omit.
//
// Schema version 2 documents carry an explicit data_format block (dimensions
// and wire profile). Version 1 documents predate it, so the parser derives:
// columns per frame from lidar_mode, pixels per column from the altitude
// angle array or the product line name, profile LEGACY, zero azimuth
// offsets, and product-line defaults for the origin offset and for evenly
// spaced altitude angles. These derivations reproduce the historically
// shipped values exactly.
func ParseMetadata(doc map[string]any) (*SensorMetadata, error) {
	md := &SensorMetadata{}

	var err error
	if md.SchemaVersion, err = schemaVersion(doc); err != nil {
		return nil, err
	}
	if md.SerialNumber, err = optString(doc, "sn"); err != nil {
		return nil, err
	}
	if md.ProductLine, err = optString(doc, "prod_line"); err != nil {
		return nil, err
	}
	if md.LidarMode, err = optString(doc, "lidar_mode"); err != nil {
		return nil, err
	}

	if md.SchemaVersion >= 2 {
		if err := parseDataFormat(doc, md); err != nil {
			return nil, err
		}
	} else {
		if err := deriveLegacyFormat(doc, md); err != nil {
			return nil, err
		}
	}

	if err := parseBeamAngles(doc, md); err != nil {
		return nil, err
	}
	if err := parseOrigin(doc, md); err != nil {
		return nil, err
	}
	if err := parseTransform(doc, md); err != nil {
		return nil, err
	}

	if !supportedColumnsPerFrame[md.ColumnsPerFrame] {
		return nil, metaErr(OutOfRange, "columns_per_frame",
			"%d not in supported set {512, 1024, 2048, 4096}", md.ColumnsPerFrame)
	}
	if md.ColumnsPerPacket <= 0 {
		return nil, metaErr(OutOfRange, "columns_per_packet", "%d must be positive", md.ColumnsPerPacket)
	}
	return md, nil
}

// schemaVersion reads the explicit version tag, or infers it: documents
// carrying a data_format block are version 2, bare documents version 1.
func schemaVersion(doc map[string]any) (int, error) {
	v, ok := doc["schema_version"]
	if !ok {
		if _, hasDF := doc["data_format"]; hasDF {
			return 2, nil
		}
		return 1, nil
	}
	n, ok := asFloat(v)
	if !ok || n != math.Trunc(n) {
		return 0, metaErr(TypeMismatch, "schema_version", "expected integer, got %T", v)
	}
	ver := int(n)
	if ver < 1 || ver > 2 {
		return 0, metaErr(UnsupportedVersion, "schema_version", "version %d not supported (1..2)", ver)
	}
	return ver, nil
}

func parseDataFormat(doc map[string]any, md *SensorMetadata) error {
	raw, ok := doc["data_format"]
	if !ok {
		return metaErr(MissingField, "data_format", "required for schema version %d", md.SchemaVersion)
	}
	df, ok := raw.(map[string]any)
	if !ok {
		return metaErr(TypeMismatch, "data_format", "expected object, got %T", raw)
	}

	var err error
	if md.PixelsPerColumn, err = reqInt(df, "data_format.pixels_per_column"); err != nil {
		return err
	}
	if md.ColumnsPerFrame, err = reqInt(df, "data_format.columns_per_frame"); err != nil {
		return err
	}
	if md.ColumnsPerPacket, err = reqInt(df, "data_format.columns_per_packet"); err != nil {
		return err
	}
	if md.PixelsPerColumn <= 0 {
		return metaErr(OutOfRange, "data_format.pixels_per_column", "%d must be positive", md.PixelsPerColumn)
	}

	md.UDPProfile = profile.ProfileLegacy
	if p, ok := df["udp_profile_lidar"]; ok {
		s, ok := p.(string)
		if !ok {
			return metaErr(TypeMismatch, "data_format.udp_profile_lidar", "expected string, got %T", p)
		}
		md.UDPProfile = s
	}
	return nil
}

// deriveLegacyFormat fills the framing fields for version 1 documents, which
// have no data_format block.
func deriveLegacyFormat(doc map[string]any, md *SensorMetadata) error {
	md.UDPProfile = profile.ProfileLegacy
	md.ColumnsPerPacket = 16

	md.ColumnsPerFrame = 1024
	if md.LidarMode != "" {
		cols, err := columnsFromLidarMode(md.LidarMode)
		if err != nil {
			return err
		}
		md.ColumnsPerFrame = cols
	}

	// Pixels per column: the altitude angle array is authoritative; fall
	// back to the beam count encoded in the product line name ("OS-1-64").
	if alts, ok := doc["beam_altitude_angles"]; ok {
		vals, err := floatSlice(alts, "beam_altitude_angles")
		if err != nil {
			return err
		}
		md.PixelsPerColumn = len(vals)
	} else if n, ok := beamsFromProductLine(md.ProductLine); ok {
		md.PixelsPerColumn = n
	} else {
		return metaErr(MissingField, "pixels_per_column",
			"no beam_altitude_angles and no beam count in prod_line %q", md.ProductLine)
	}
	if md.PixelsPerColumn <= 0 {
		return metaErr(OutOfRange, "pixels_per_column", "%d must be positive", md.PixelsPerColumn)
	}
	return nil
}

// columnsFromLidarMode parses a "1024x10" style mode string.
func columnsFromLidarMode(mode string) (int, error) {
	w, _, ok := strings.Cut(mode, "x")
	if !ok {
		return 0, metaErr(TypeMismatch, "lidar_mode", "expected WIDTHxRATE, got %q", mode)
	}
	cols, err := strconv.Atoi(w)
	if err != nil {
		return 0, metaErr(TypeMismatch, "lidar_mode", "width %q is not a number", w)
	}
	return cols, nil
}

// beamsFromProductLine extracts the trailing beam count from names like
// "OS-1-64".
func beamsFromProductLine(line string) (int, bool) {
	i := strings.LastIndex(line, "-")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[i+1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// defaultsFor returns the geometry defaults for the document's product line,
// matched by prefix so "OS-1-128" selects the OS-1 row.
func defaultsFor(line string) productDefaults {
	for prefix, d := range productLineDefaults {
		if strings.HasPrefix(line, prefix) {
			return d
		}
	}
	return fallbackDefaults
}

func parseBeamAngles(doc map[string]any, md *SensorMetadata) error {
	n := md.PixelsPerColumn

	if raw, ok := doc["beam_altitude_angles"]; ok {
		vals, err := floatSlice(raw, "beam_altitude_angles")
		if err != nil {
			return err
		}
		if len(vals) != n {
			return metaErr(OutOfRange, "beam_altitude_angles",
				"%d entries, want pixels_per_column = %d", len(vals), n)
		}
		for _, a := range vals {
			if a < -90 || a > 90 {
				return metaErr(OutOfRange, "beam_altitude_angles", "angle %g outside [-90, 90]", a)
			}
		}
		md.BeamAltitudeAngles = vals
	} else {
		md.BeamAltitudeAngles = defaultAltitudeAngles(md.ProductLine, n)
	}

	if raw, ok := doc["beam_azimuth_angles"]; ok {
		vals, err := floatSlice(raw, "beam_azimuth_angles")
		if err != nil {
			return err
		}
		if len(vals) != n {
			return metaErr(OutOfRange, "beam_azimuth_angles",
				"%d entries, want pixels_per_column = %d", len(vals), n)
		}
		md.BeamAzimuthAngles = vals
	} else {
		md.BeamAzimuthAngles = make([]float64, n)
	}
	return nil
}

// defaultAltitudeAngles spreads n beams evenly over the product line's
// vertical field of view, top beam first.
func defaultAltitudeAngles(line string, n int) []float64 {
	half := defaultsFor(line).altitudeFOV / 2
	angles := make([]float64, n)
	if n == 1 {
		return angles
	}
	step := defaultsFor(line).altitudeFOV / float64(n-1)
	for i := range angles {
		angles[i] = half - float64(i)*step
	}
	return angles
}

func parseOrigin(doc map[string]any, md *SensorMetadata) error {
	raw, ok := doc["lidar_origin_to_beam_origin_mm"]
	if !ok {
		md.LidarOriginToBeamOriginMM = defaultsFor(md.ProductLine).originToBeam
		return nil
	}
	v, ok := asFloat(raw)
	if !ok {
		return metaErr(TypeMismatch, "lidar_origin_to_beam_origin_mm", "expected number, got %T", raw)
	}
	if v < 0 {
		return metaErr(OutOfRange, "lidar_origin_to_beam_origin_mm", "%g must be non-negative", v)
	}
	md.LidarOriginToBeamOriginMM = v
	return nil
}

func parseTransform(doc map[string]any, md *SensorMetadata) error {
	raw, ok := doc["lidar_to_sensor_transform"]
	if !ok {
		md.LidarToSensorTransform = identityTransform()
		return nil
	}
	vals, err := floatSlice(raw, "lidar_to_sensor_transform")
	if err != nil {
		return err
	}
	if len(vals) != 16 {
		return metaErr(OutOfRange, "lidar_to_sensor_transform", "%d entries, want 16", len(vals))
	}
	copy(md.LidarToSensorTransform[:], vals)
	return nil
}

func identityTransform() [16]float64 {
	var t [16]float64
	t[0], t[5], t[10], t[15] = 1, 1, 1, 1
	return t
}

// asFloat accepts the numeric types a decoded JSON document or hand-built
// document map may carry.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func optString(doc map[string]any, field string) (string, error) {
	raw, ok := doc[field]
	if !ok {
		return "", nil
	}
	switch s := raw.(type) {
	case string:
		return s, nil
	case float64:
		// Serial numbers appear as bare numbers in some documents.
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	}
	return "", metaErr(TypeMismatch, field, "expected string, got %T", raw)
}

func reqInt(doc map[string]any, field string) (int, error) {
	key := field
	if i := strings.LastIndex(field, "."); i >= 0 {
		key = field[i+1:]
	}
	raw, ok := doc[key]
	if !ok {
		return 0, metaErr(MissingField, field, "")
	}
	n, ok := asFloat(raw)
	if !ok || n != math.Trunc(n) {
		return 0, metaErr(TypeMismatch, field, "expected integer, got %T", raw)
	}
	return int(n), nil
}

func floatSlice(raw any, field string) ([]float64, error) {
	list, ok := raw.([]any)
	if !ok {
		if fs, ok := raw.([]float64); ok {
			out := make([]float64, len(fs))
			copy(out, fs)
			return out, nil
		}
		return nil, metaErr(TypeMismatch, field, "expected array, got %T", raw)
	}
	out := make([]float64, len(list))
	for i, v := range list {
		f, ok := asFloat(v)
		if !ok {
			return nil, metaErr(TypeMismatch, field, "entry %d: expected number, got %T", i, v)
		}
		out[i] = f
	}
	return out, nil
}
