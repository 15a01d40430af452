package descriptor

import "github.com/user/framebrc/pkg/ports"

// NumQP is the number of AVC quantization parameters.
const NumQP = 52

// MotionSearchTable holds the search window of a quality tier.
type MotionSearchTable struct {
	SearchPathLength int
	MaxSearchPath    int
	RefWidth         int
	RefHeight        int
	SubPelMode       int // 0 integer, 1 half, 3 quarter
}

var motionSearch = map[ports.QualityTier]MotionSearchTable{
	ports.TierQuality: {SearchPathLength: 57, MaxSearchPath: 57, RefWidth: 48, RefHeight: 40, SubPelMode: 3},
	ports.TierNormal:  {SearchPathLength: 32, MaxSearchPath: 48, RefWidth: 40, RefHeight: 32, SubPelMode: 3},
	ports.TierSpeed:   {SearchPathLength: 16, MaxSearchPath: 24, RefWidth: 32, RefHeight: 32, SubPelMode: 1},
}

// MotionSearchFor returns the search window for a tier.
func MotionSearchFor(tier ports.QualityTier) MotionSearchTable {
	if t, ok := motionSearch[tier]; ok {
		return t
	}
	return motionSearch[ports.TierNormal]
}

// ModeCost indexes a mode-cost table.
type ModeCost int

const (
	CostIntra16x16 ModeCost = iota
	CostIntra8x8
	CostIntra4x4
	CostInter16x16
	CostInter16x8
	CostInter8x8
	CostRefID
	CostMotionVector
	numModeCosts
)

var modeCosts = map[ports.PictureType][numModeCosts]uint8{
	ports.PictureI: {0x05, 0x18, 0x2a, 0x00, 0x00, 0x00, 0x00, 0x00},
	ports.PictureP: {0x1a, 0x2c, 0x3a, 0x0a, 0x19, 0x29, 0x0b, 0x0a},
	ports.PictureB: {0x1d, 0x2e, 0x3e, 0x0c, 0x1b, 0x2b, 0x0e, 0x0c},
}

// ModeCosts returns the mode-cost table of a picture type.
func ModeCosts(pic ports.PictureType) [numModeCosts]uint8 {
	return modeCosts[pic]
}

// Static-frame detection cost thresholds per QP.
var staticFrameCostP = [NumQP]uint8{
	44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 60, 60, 60, 60, 73, 73, 73, 76, 76, 76,
	88, 89, 89, 91, 92, 93, 104, 104, 106, 107, 108, 109, 120, 120, 122, 123, 124, 125, 136, 136, 138, 139, 140, 141, 143, 143,
}

var staticFrameCostB = [NumQP]uint8{
	57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 73, 73, 73, 73, 77, 77, 77, 89, 89, 89,
	91, 93, 93, 95, 105, 106, 107, 108, 110, 111, 121, 122, 123, 124, 125, 127, 137, 138, 139, 140, 142, 143, 143, 143, 143, 143,
}

// StaticFrameCost returns the static-frame cost threshold for a picture type at qp.
// I pictures never run the check and get zero.
func StaticFrameCost(pic ports.PictureType, qp int) uint8 {
	qp = clampQP(qp)
	switch pic {
	case ports.PictureP:
		return staticFrameCostP[qp]
	case ports.PictureB:
		return staticFrameCostB[qp]
	default:
		return 0
	}
}

// SkipThreshold returns the macroblock skip threshold at qp.
// Values step every QP band as in the static cost tables, scaled to SAD units.
func SkipThreshold(pic ports.PictureType, qp int) uint16 {
	if pic == ports.PictureI {
		return 0
	}
	return uint16(StaticFrameCost(pic, qp)) * 4
}

// FrameClass is the rate-control classification of a picture.
type FrameClass int

const (
	ClassI FrameClass = iota
	ClassP
	ClassB
)

// ClassOf maps a picture type to its class. Scene changes are coded with I class statistics.
func ClassOf(pic ports.PictureType, sceneChange bool) FrameClass {
	if sceneChange {
		return ClassI
	}
	switch pic {
	case ports.PictureP:
		return ClassP
	case ports.PictureB:
		return ClassB
	default:
		return ClassI
	}
}

// NumDeviationBuckets is the number of buckets the 8 deviation thresholds split the axis into.
const NumDeviationBuckets = 9

// CenterBucket is the bucket within tolerance.
const CenterBucket = 4

var qpAdjust = [3][NumDeviationBuckets]int{
	ClassI: {-4, -3, -2, -1, 0, 1, 2, 3, 4},
	ClassP: {-3, -2, -1, -1, 0, 1, 1, 2, 3},
	ClassB: {-2, -2, -1, -1, 0, 1, 1, 2, 2},
}

// QPAdjustment returns the QP delta for a deviation bucket.
func QPAdjustment(class FrameClass, bucket int) int {
	if bucket < 0 {
		bucket = 0
	}
	if bucket >= NumDeviationBuckets {
		bucket = NumDeviationBuckets - 1
	}
	return qpAdjust[class][bucket]
}

var frameWeights = [3]float64{ClassI: 3.0, ClassP: 1.0, ClassB: 0.6}

// FrameWeight returns the relative bit weight of a frame class.
func FrameWeight(class FrameClass) float64 {
	return frameWeights[class]
}

func clampQP(qp int) int {
	if qp < 0 {
		return 0
	}
	if qp >= NumQP {
		return NumQP - 1
	}
	return qp
}
