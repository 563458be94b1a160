package scan

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

// DimensionMismatchError reports a frame projected through a lookup table
// built for different sensor dimensions.
type DimensionMismatchError struct {
	FrameWidth, FrameHeight int
	LUTWidth, LUTHeight     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("projection: frame is %dx%d, lookup table is %dx%d",
		e.FrameWidth, e.FrameHeight, e.LUTWidth, e.LUTHeight)
}

// InvalidPolicy selects what a pixel with no usable reading resolves to in
// the projected cloud.
type InvalidPolicy int

const (
	// InvalidZero resolves unusable pixels to the origin. Storage-friendly:
	// zero points compress well and filter cheaply.
	InvalidZero InvalidPolicy = iota
	// InvalidNaN resolves unusable pixels to NaN coordinates, which keeps
	// them visually and numerically distinct from real points at the origin.
	InvalidNaN
)

// XYZLut precomputes, per (beam, column) pair, the unit direction the beam
// points in and the fixed offset of its emission origin, both already in the
// sensor frame. Building the table does all the trigonometry once; projecting
// a frame is then one multiply-add per pixel.
//
// A lookup table is immutable after construction and safe to share read-only
// across every frame and goroutine that projects with it.
type XYZLut struct {
	Width  int
	Height int

	// Directions and Offsets are Height x Width planes, row-major like the
	// frame's channel planes: (pixel, column) lives at pixel*Width + column.
	Directions []r3.Vec
	Offsets    []r3.Vec

	// rangeScale converts raw range counts to metres.
	rangeScale float64
}

// MakeXYZLut builds the lookup table for md, converting ranges per layout's
// range scale.
//
// For beam p at column c, with encoder azimuth theta = 2*pi*c/W:
// the direction combines theta, the beam's azimuth offset and its altitude
// angle; the offset places the beam origin on its radius-n circle around the
// rotation axis and subtracts n along the direction so that
// point = direction*range + offset measures range from the beam origin. Both
// are then rotated (and the offset translated) into the sensor frame by the
// metadata's lidar-to-sensor transform, with millimetre translation converted
// to metres.
func MakeXYZLut(md *SensorMetadata, layout profile.Layout) *XYZLut {
	w, h := md.ColumnsPerFrame, md.PixelsPerColumn
	lut := &XYZLut{
		Width:      w,
		Height:     h,
		Directions: make([]r3.Vec, w*h),
		Offsets:    make([]r3.Vec, w*h),
		rangeScale: layout.RangeScale,
	}

	n := md.LidarOriginToBeamOriginMM / 1000.0
	t := md.LidarToSensorTransform
	trans := r3.Vec{X: t[3] / 1000.0, Y: t[7] / 1000.0, Z: t[11] / 1000.0}

	for px := 0; px < h; px++ {
		alt := md.BeamAltitudeAngles[px] * math.Pi / 180.0
		azOff := md.BeamAzimuthAngles[px] * math.Pi / 180.0
		sinAlt, cosAlt := math.Sincos(alt)
		for c := 0; c < w; c++ {
			theta := 2 * math.Pi * float64(c) / float64(w)
			sinAz, cosAz := math.Sincos(theta + azOff)
			dir := r3.Vec{X: cosAz * cosAlt, Y: sinAz * cosAlt, Z: sinAlt}

			sinEnc, cosEnc := math.Sincos(theta)
			off := r3.Sub(r3.Vec{X: n * cosEnc, Y: n * sinEnc}, r3.Scale(n, dir))

			i := px*w + c
			lut.Directions[i] = rotate(t, dir)
			lut.Offsets[i] = r3.Add(rotate(t, off), trans)
		}
	}
	return lut
}

// rotate applies the rotation part of a row-major 4x4 homogeneous transform.
func rotate(t [16]float64, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0]*v.X + t[1]*v.Y + t[2]*v.Z,
		Y: t[4]*v.X + t[5]*v.Y + t[6]*v.Z,
		Z: t[8]*v.X + t[9]*v.Y + t[10]*v.Z,
	}
}

// PointCloud is the Cartesian projection of one frame: one point per (beam,
// column) pixel, in metres, in the sensor frame, row-major like the frame's
// channel planes.
type PointCloud struct {
	Width  int
	Height int
	Points []r3.Vec
}

// At returns the point for (pixel, column).
func (pc *PointCloud) At(pixel, column int) r3.Vec {
	return pc.Points[pixel*pc.Width+column]
}

// Project converts frame's ranges into a freshly allocated point cloud.
// Pixels in MISSING columns and pixels with a zero range resolve per policy.
// The frame is not mutated; projecting the same frame twice yields
// bit-identical clouds.
func (lut *XYZLut) Project(f *Frame, policy InvalidPolicy) (*PointCloud, error) {
	pc := &PointCloud{
		Width:  lut.Width,
		Height: lut.Height,
		Points: make([]r3.Vec, lut.Width*lut.Height),
	}
	if err := lut.ProjectInto(f, policy, pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// ProjectInto projects frame into pc, reusing pc's point buffer. pc must have
// been produced by a lookup table of the same dimensions.
func (lut *XYZLut) ProjectInto(f *Frame, policy InvalidPolicy, pc *PointCloud) error {
	if f.Width != lut.Width || f.Height != lut.Height {
		return &DimensionMismatchError{
			FrameWidth: f.Width, FrameHeight: f.Height,
			LUTWidth: lut.Width, LUTHeight: lut.Height,
		}
	}
	if pc.Width != lut.Width || pc.Height != lut.Height || len(pc.Points) != lut.Width*lut.Height {
		return &DimensionMismatchError{
			FrameWidth: pc.Width, FrameHeight: pc.Height,
			LUTWidth: lut.Width, LUTHeight: lut.Height,
		}
	}

	invalid := r3.Vec{}
	if policy == InvalidNaN {
		nan := math.NaN()
		invalid = r3.Vec{X: nan, Y: nan, Z: nan}
	}

	ranges := f.Field(profile.ChanRange)
	for px := 0; px < lut.Height; px++ {
		row := px * lut.Width
		for c := 0; c < lut.Width; c++ {
			i := row + c
			if f.Status[c] != ColumnValid || ranges[i] == 0 {
				pc.Points[i] = invalid
				continue
			}
			r := float64(ranges[i]) * lut.rangeScale
			pc.Points[i] = r3.Add(r3.Scale(r, lut.Directions[i]), lut.Offsets[i])
		}
	}
	return nil
}
