package ports

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStageFailed is reported by a DeviceExecutor when a stage completes with a failure status.
var ErrStageFailed = errors.New("device: stage execution failed")

// ErrAllocationFailed is reported by a BufferAllocator when device memory is exhausted.
var ErrAllocationFailed = errors.New("device: buffer allocation failed")

// StageKind identifies one device-executed step of the per-frame pipeline.
type StageKind int

const (
	StageScaling StageKind = iota
	StageMotionSearch
	StageStaticFrameCheck
	StageRateControlInit
	StageIntraDistortion
	StageMacroblockEncode
	StageRateControlUpdate
	StageMacroblockRateControl
	StageWeightedPrediction
	StageSlicePacketize
)

// String returns the string representation of the stage kind.
func (k StageKind) String() string {
	switch k {
	case StageScaling:
		return "scaling"
	case StageMotionSearch:
		return "motion-search"
	case StageStaticFrameCheck:
		return "static-frame-check"
	case StageRateControlInit:
		return "rc-init"
	case StageIntraDistortion:
		return "intra-distortion"
	case StageMacroblockEncode:
		return "mb-encode"
	case StageRateControlUpdate:
		return "rc-update"
	case StageMacroblockRateControl:
		return "mb-rc-update"
	case StageWeightedPrediction:
		return "weighted-prediction"
	case StageSlicePacketize:
		return "slice-packetize"
	default:
		return "unknown"
	}
}

// ParseStageKind parses a stage name as returned by StageKind.String.
func ParseStageKind(s string) (StageKind, error) {
	for k := StageScaling; k <= StageSlicePacketize; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return StageScaling, fmt.Errorf("unknown stage: %q", s)
}

// KernelID names a device-executable.
type KernelID string

// BufferRole names the purpose of a buffer inside a resource slot.
type BufferRole int

const (
	RoleSource BufferRole = iota
	RoleReconstruction
	RoleDownscaled4x
	RoleDownscaled16x
	RoleDownscaled32x
	RoleMotionVectors
	RoleDistortion
	RoleBRCConstData
	RoleMBQPMap
	RoleROIMap
	RoleStaticFrame
	RoleIntraDistortion
	RoleWeightedReference
	RoleEncodeOutput
	RoleBRCHistory
	RoleReference   // reconstruction of a reference picture, read-only
	RoleReference4x // downscaled reference picture, read-only
	numBufferRoles
)

// NumBufferRoles is the number of defined buffer roles.
const NumBufferRoles = int(numBufferRoles)

var roleNames = [...]string{
	"source", "reconstruction", "downscaled-4x", "downscaled-16x", "downscaled-32x",
	"motion-vectors", "distortion", "brc-const-data", "mb-qp-map", "roi-map",
	"static-frame", "intra-distortion", "weighted-reference", "encode-output",
	"brc-history", "reference", "reference-4x",
}

// String returns the string representation of the role.
func (r BufferRole) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return "unknown"
	}
	return roleNames[r]
}

// BufferHandle is an opaque reference to device memory.
type BufferHandle struct {
	ID   uint64
	Size int64
}

// Valid reports whether the handle refers to an allocation.
func (h BufferHandle) Valid() bool {
	return h.ID != 0
}

// FieldView is a handle plus the field of the buffer a stage reads or writes.
// The view is owned by the slot the handle came from and must not outlive it.
type FieldView struct {
	Handle BufferHandle
	Field  FieldSelector
}

// Access is the access mode of a bound buffer.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

// BufferBinding attaches a view to a stage input or output.
type BufferBinding struct {
	Role     BufferRole
	View     FieldView
	Access   Access
	RefIndex int // index into the reference list for reference roles, otherwise 0
}

// ParameterBlock is the per-stage parameter structure handed to the device.
type ParameterBlock interface {
	// Stage returns the stage kind the block was built for.
	Stage() StageKind
}

// Submission is one stage execution request.
type Submission struct {
	Frame        int
	Pass         int
	Stage        StageKind
	Kernel       KernelID
	Params       ParameterBlock
	ParamSize    int
	Buffers      []BufferBinding
	FirstInPhase bool
	LastInPhase  bool
}

// CompletionToken identifies a submitted stage.
type CompletionToken uint64

// StageStatistics is the read-back of a completed stage.
// Only the fields relevant to the stage kind are populated.
type StageStatistics struct {
	Stage  StageKind
	Failed bool

	ConsumedBits int64   // mb-encode
	AverageQP    float64 // mb-encode
	Distortion   int64   // motion-search, intra-distortion
	IntraCost    int64   // intra-distortion
	StaticFrame  bool    // static-frame-check
	MBQPMap      []int8  // mb-rc-update, per-MB QP delta for the next pass
	Payload      []byte  // slice-packetize, Annex-B slice data
	BitLength    int64   // slice-packetize

	Elapsed time.Duration
}

// DeviceExecutor runs stages asynchronously.
// Submissions within a phase must execute in submission order.
type DeviceExecutor interface {
	// Submit queues a stage for execution and returns without waiting.
	Submit(ctx context.Context, sub Submission) (CompletionToken, error)

	// Wait blocks until the stage completes. A failed completion returns
	// an error wrapping ErrStageFailed together with the statistics.
	Wait(ctx context.Context, token CompletionToken) (StageStatistics, error)

	// Cancel abandons a submitted stage. Cancelling a completed or unknown
	// token is a no-op.
	Cancel(token CompletionToken)
}

// BufferSpec describes an allocation request.
type BufferSpec struct {
	Role BufferRole
	Size int64
	Slot int // -1 for session-scoped buffers
}

// BufferAllocator provides device memory for resource slots.
type BufferAllocator interface {
	// Allocate reserves device memory. Exhaustion returns an error wrapping ErrAllocationFailed.
	Allocate(spec BufferSpec) (BufferHandle, error)

	// Free returns memory to the device.
	Free(h BufferHandle)
}
