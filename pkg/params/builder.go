// Package params builds the per-stage parameter blocks and buffer bindings
// from the frame context, the rate control budget and the static tables.
package params

import (
	"errors"
	"fmt"

	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
)

var (
	// ErrUnknownStage is returned by Stage for a kind with no registered stage.
	ErrUnknownStage = errors.New("params: no stage registered for kind")
	// ErrNoBudget is returned when a rate control block is built without an open budget.
	ErrNoBudget = errors.New("params: rate control budget not open")
	// ErrIndexRange is returned for a reference or slice selector outside the picture.
	ErrIndexRange = errors.New("params: selector out of range")
)

// Options configures a Builder.
type Options struct {
	// ROISmoothing is the width of the apron drawn around each ROI, 0 to 3 MBs.
	ROISmoothing int
	Logger       ports.Logger
}

// Builder dispatches stage kinds to their parameter and binding builders.
type Builder struct {
	stages    map[ports.StageKind]pipeline.Stage
	smoothing int
	logger    ports.Logger
}

// NewBuilder creates a builder with every stage kind registered.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		stages:    make(map[ports.StageKind]pipeline.Stage),
		smoothing: opts.ROISmoothing,
		logger:    opts.Logger,
	}
	for _, s := range defaultStages() {
		b.Register(s)
	}
	return b
}

// Register installs s for its kind, replacing any previous stage.
func (b *Builder) Register(s pipeline.Stage) {
	b.stages[s.Kind()] = s
}

// Stage returns the stage serving kind.
func (b *Builder) Stage(kind ports.StageKind) (pipeline.Stage, error) {
	s, ok := b.stages[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, kind)
	}
	return s, nil
}

// PrepareFrame derives the per-frame inputs shared by several stages.
// It must run once before the first stage of the frame is built.
func (b *Builder) PrepareFrame(fc *pipeline.FrameContext) {
	seq, pic := fc.Sequence(), fc.PictureParams()

	dirtyUsable := DirtyRectsUsable(pic, fc.PreviousReconstruction)
	if len(pic.DirtyRects) > 0 && len(pic.ROIs) == 0 && !dirtyUsable && b.logger != nil {
		b.logger.Warn("Ignoring dirty rectangles on frame %d: reference is not the previous reconstruction", fc.Index)
	}
	if len(pic.ROIs) > MaxRegions && b.logger != nil {
		b.logger.Warn("Frame %d has %d regions, using the first %d", fc.Index, len(pic.ROIs), MaxRegions)
	}
	fc.ROI = BuildROIMap(seq.WidthInMB, seq.HeightInMB, pic, b.smoothing, dirtyUsable)
}
