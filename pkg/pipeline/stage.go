// Package pipeline provides the per-frame context and the stage capability
// interface shared by the parameter builder and the scheduler.
package pipeline

import (
	"context"

	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/ports"
)

// Stage is the capability set of one stage kind.
type Stage interface {
	// Kind returns the stage kind served.
	Kind() ports.StageKind

	// BuildParameters builds a fresh parameter block for the current pass.
	BuildParameters(fc *FrameContext) (ports.ParameterBlock, error)

	// BindBuffers resolves the buffer views the stage reads and writes.
	BindBuffers(fc *FrameContext, desc descriptor.Descriptor) ([]ports.BufferBinding, error)

	// Execute hands a prepared submission to the device.
	Execute(ctx context.Context, exec ports.DeviceExecutor, sub ports.Submission) (ports.CompletionToken, error)
}

// Submit submits sub on exec unchanged.
func Submit(ctx context.Context, exec ports.DeviceExecutor, sub ports.Submission) (ports.CompletionToken, error) {
	return exec.Submit(ctx, sub)
}
