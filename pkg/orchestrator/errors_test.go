package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
	"github.com/user/framebrc/pkg/resource"
	"github.com/user/framebrc/pkg/scheduler"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"geometry change", fmt.Errorf("%w: 8x4 MBs became 16x4", ErrInvalidBundle), KindConfiguration},
		{"rate control disabled", &scheduler.StageError{Stage: ports.StageRateControlInit, Err: ratecontrol.ErrRateControlDisabled}, KindConfiguration},
		{"frame already open", &scheduler.StageError{Stage: ports.StageRateControlUpdate, Err: ratecontrol.ErrFrameInProgress}, KindConfiguration},
		{"missing reference", resource.ErrMissingBuffer, KindConfiguration},
		{"device failure", fmt.Errorf("%w: mb-encode", ports.ErrStageFailed), KindStageFailure},
		{"out of slots", resource.ErrNoFreeSlot, KindResourceExhaustion},
		{"unknown", errors.New("boom"), KindStageFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(context.Background(), tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassify_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := classify(ctx, fmt.Errorf("wait: %w", context.Canceled)); got != KindCanceled {
		t.Errorf("expected %s, got %s", KindCanceled, got)
	}
}
