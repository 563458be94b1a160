package scan

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

// FrameHandler receives each completed frame and its projection. The frame
// and cloud are valid only for the duration of the call: the pipeline
// recycles both buffers afterwards, so a handler that needs the data longer
// must copy what it keeps.
type FrameHandler func(*Frame, *PointCloud)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Registry resolves the metadata's wire profile. Defaults to the
	// built-in registry.
	Registry *profile.Registry
	// Metadata is the sensor's validated metadata. Required.
	Metadata *SensorMetadata
	// Handler is invoked for every completed frame. Required.
	Handler FrameHandler

	// Policy for frame-id disagreement during reassembly.
	Policy MismatchPolicy
	// InvalidPoints selects the projection of unusable pixels.
	InvalidPoints InvalidPolicy
	// Stats, when non-nil, receives packet and frame counters.
	Stats *PacketStats
	// QueueSize bounds the completed frames waiting for the handler
	// (default: 8).
	QueueSize int
}

// Pipeline assembles the full decode path for one sensor stream: packet
// decoder, batcher, and projector. HandlePacket is the single-writer inlet;
// completed frames cross to a serialised worker goroutine that projects and
// invokes the handler, so reassembly of the next revolution overlaps
// projection of the previous one. The worker is the only concurrency: one
// handler invocation runs at a time.
type Pipeline struct {
	pf      *PacketFormat
	arena   *FrameArena
	batcher *Batcher
	lut     *XYZLut

	handler FrameHandler
	invalid InvalidPolicy
	stats   *PacketStats

	frameCh chan *Frame
	done    chan struct{}
	closed  bool
}

// NewPipeline validates cfg, precomputes the lookup table, and starts the
// frame worker.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("pipeline: metadata is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("pipeline: frame handler is required")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = profile.DefaultRegistry()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 8
	}

	pf, err := PacketFormatFromMetadata(cfg.Metadata, reg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	arena := NewFrameArena(cfg.Metadata, pf.Layout)

	p := &Pipeline{
		pf:      pf,
		arena:   arena,
		lut:     MakeXYZLut(cfg.Metadata, pf.Layout),
		handler: cfg.Handler,
		invalid: cfg.InvalidPoints,
		stats:   cfg.Stats,
		frameCh: make(chan *Frame, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	p.batcher = NewBatcher(pf, arena, BatcherConfig{Policy: cfg.Policy, Stats: cfg.Stats})

	go p.frameWorker()
	return p, nil
}

// Format exposes the pipeline's packet format, mainly for sizing receive
// buffers.
func (p *Pipeline) Format() *PacketFormat { return p.pf }

// HandlePacket feeds one raw packet through decode and reassembly. A
// malformed packet is logged, counted, and skipped; the error return is
// informational and the stream continues. Not safe for concurrent use: one
// packet source drives one pipeline.
func (p *Pipeline) HandlePacket(raw []byte, captureTime time.Time) error {
	frames, err := p.batcher.Batch(raw, captureTime)
	if err != nil {
		Diagf("skipping packet: %v", err)
		return err
	}
	for _, f := range frames {
		p.frameCh <- f
	}
	return nil
}

// Flush emits the partial frame in progress to the handler, for stream ends
// such as a drained capture file.
func (p *Pipeline) Flush() {
	if f := p.batcher.Flush(); f != nil {
		p.frameCh <- f
	}
}

// Close discards any partial frame, stops the worker, and waits for in-flight
// handler invocations to finish. The pipeline must not be used afterwards.
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.batcher.Discard()
	close(p.frameCh)
	<-p.done
}

// frameWorker projects completed frames and invokes the handler one frame at
// a time. Serialisation protects handlers that persist or publish from
// concurrent invocation.
func (p *Pipeline) frameWorker() {
	defer close(p.done)
	cloud := &PointCloud{
		Width:  p.lut.Width,
		Height: p.lut.Height,
		Points: make([]r3.Vec, p.lut.Width*p.lut.Height),
	}
	for f := range p.frameCh {
		if err := p.lut.ProjectInto(f, p.invalid, cloud); err != nil {
			// Dimensions are fixed at construction, so this means a foreign
			// frame was injected.
			Opsf("projection failed for frame %d: %v", f.FrameID, err)
			p.arena.Release(f)
			continue
		}
		p.handler(f, cloud)
		p.arena.Release(f)
	}
}
