package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/params"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
	"github.com/user/framebrc/pkg/resource"
	"github.com/user/framebrc/pkg/scheduler"
)

// ErrSessionTerminated is returned by every call after a session-fatal error.
var ErrSessionTerminated = errors.New("orchestrator: session terminated")

// ErrorKind classifies a frame failure.
type ErrorKind int

const (
	// KindConfiguration is an invalid parameter or stage combination, detected
	// before the frame reached the device. The frame is dropped.
	KindConfiguration ErrorKind = iota
	// KindResourceExhaustion terminates the session.
	KindResourceExhaustion
	// KindStageFailure is a failed device completion. The frame is dropped.
	KindStageFailure
	// KindPacketizer is a packetizer rejection. The frame is dropped.
	KindPacketizer
	// KindCanceled is context cancellation. It terminates the session.
	KindCanceled
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	case KindStageFailure:
		return "stage-failure"
	case KindPacketizer:
		return "packetizer"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind terminates the session.
func (k ErrorKind) Fatal() bool {
	return k == KindResourceExhaustion || k == KindCanceled
}

// FrameError is the error returned for a frame that was not packetized.
type FrameError struct {
	Kind  ErrorKind
	Frame int
	Stage string // empty when the failure is not tied to a stage
	Err   error
}

func (e *FrameError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("frame %d: %s: %s stage: %v", e.Frame, e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("frame %d: %s: %v", e.Frame, e.Kind, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// newFrameError classifies err. A StageError contributes the stage name
// and is unwrapped so that the stage is not reported twice.
func newFrameError(ctx context.Context, frame int, err error) *FrameError {
	fe := &FrameError{Kind: classify(ctx, err), Frame: frame, Err: err}
	var se *scheduler.StageError
	if errors.As(err, &se) {
		fe.Stage = se.Stage.String()
		fe.Err = se.Err
	}
	return fe
}

func classify(ctx context.Context, err error) ErrorKind {
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return KindCanceled
	case errors.Is(err, resource.ErrAllocation),
		errors.Is(err, resource.ErrNoFreeSlot),
		errors.Is(err, resource.ErrClosed),
		errors.Is(err, ports.ErrAllocationFailed):
		return KindResourceExhaustion
	case errors.Is(err, ports.ErrStageFailed),
		errors.Is(err, scheduler.ErrSyncTimeout):
		return KindStageFailure
	case errors.Is(err, descriptor.ErrInvalidCombination),
		errors.Is(err, scheduler.ErrPrecondition),
		errors.Is(err, resource.ErrMissingBuffer),
		errors.Is(err, resource.ErrInvalidated),
		errors.Is(err, ratecontrol.ErrInvalidSequence),
		errors.Is(err, ratecontrol.ErrNotInitialized),
		errors.Is(err, ratecontrol.ErrRateControlDisabled),
		errors.Is(err, ratecontrol.ErrFrameInProgress),
		errors.Is(err, ErrInvalidBundle),
		errors.Is(err, params.ErrIndexRange),
		errors.Is(err, params.ErrNoBudget),
		errors.Is(err, params.ErrUnknownStage):
		return KindConfiguration
	default:
		return KindStageFailure
	}
}
