package ratecontrol

import (
	"math"

	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/ports"
)

// NumThresholds is the number of deviation thresholds per set.
const NumThresholds = 8

// Thresholds are ascending deviation thresholds in percent of the target size.
// The first four are negative (undershoot), the last four positive (overshoot).
type Thresholds [NumThresholds]int

// Bucket returns the index of the band dev falls in, 0..NumThresholds.
func (t Thresholds) Bucket(dev float64) int {
	b := 0
	for b < NumThresholds && dev > float64(t[b]) {
		b++
	}
	return b
}

// ThresholdSet groups the threshold sets of every frame class.
type ThresholdSet struct {
	I   Thresholds `json:"i"`
	PB  Thresholds `json:"pb"`
	VBR Thresholds `json:"vbr"`
}

// For returns the thresholds that apply to class under mode.
func (s ThresholdSet) For(class descriptor.FrameClass, mode ports.RateControlMode) Thresholds {
	if class == descriptor.ClassI {
		return s.I
	}
	if mode.VariableRate() {
		return s.VBR
	}
	return s.PB
}

// ThresholdPolicy derives the deviation thresholds from the ratio of the
// per-frame bit estimate to the buffer size. It runs once per init or reset.
type ThresholdPolicy interface {
	Thresholds(bpsRatio float64) ThresholdSet
}

// ExponentialPolicy scales fixed base curves by pow(base, bpsRatio).
type ExponentialPolicy struct{}

var (
	pbNeg  = [4]float64{0.90, 0.66, 0.46, 0.3}
	pbPos  = [4]float64{0.3, 0.46, 0.7, 0.9}
	vbrNeg = [4]float64{0.9, 0.7, 0.5, 0.3}
	vbrPos = [4]float64{0.4, 0.5, 0.75, 0.9}
	iNeg   = [4]float64{0.8, 0.6, 0.34, 0.2}
	iPos   = [4]float64{0.2, 0.4, 0.66, 0.9}
)

// Thresholds implements ThresholdPolicy.
func (ExponentialPolicy) Thresholds(r float64) ThresholdSet {
	return ThresholdSet{
		I:   curve(iNeg, iPos, -50, 50, r),
		PB:  curve(pbNeg, pbPos, -50, 50, r),
		VBR: curve(vbrNeg, vbrPos, -50, 100, r),
	}
}

func curve(neg, pos [4]float64, negMult, posMult, r float64) Thresholds {
	var t Thresholds
	for i := 0; i < 4; i++ {
		t[i] = int(math.Round(negMult * math.Pow(neg[i], r)))
		t[4+i] = int(math.Round(posMult * math.Pow(pos[i], r)))
	}
	return t
}

// LowDelayPolicy uses fixed tables that favour undershoot, independent of the ratio.
type LowDelayPolicy struct{}

// Thresholds implements ThresholdPolicy.
func (LowDelayPolicy) Thresholds(float64) ThresholdSet {
	return ThresholdSet{
		I:   Thresholds{-40, -30, -17, -10, -5, 0, 10, 20},
		PB:  Thresholds{-45, -33, -23, -15, -8, 0, 15, 25},
		VBR: Thresholds{-45, -35, -25, -15, -8, 0, 20, 40},
	}
}

var (
	_ ThresholdPolicy = ExponentialPolicy{}
	_ ThresholdPolicy = LowDelayPolicy{}
)
