package ports

import "fmt"

// Codec identifies the bitstream family a session encodes.
type Codec int

const (
	CodecAVC Codec = iota
	CodecMPEG2
)

// String returns the string representation of the codec.
func (c Codec) String() string {
	switch c {
	case CodecAVC:
		return "avc"
	case CodecMPEG2:
		return "mpeg2"
	default:
		return "unknown"
	}
}

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "avc", "h264", "":
		return CodecAVC, nil
	case "mpeg2":
		return CodecMPEG2, nil
	default:
		return CodecAVC, fmt.Errorf("unknown codec: %q", s)
	}
}

// PictureType is the coding type of a picture.
type PictureType int

const (
	PictureI PictureType = iota
	PictureP
	PictureB
)

// String returns the string representation of the picture type.
func (p PictureType) String() string {
	switch p {
	case PictureI:
		return "I"
	case PictureP:
		return "P"
	case PictureB:
		return "B"
	default:
		return "?"
	}
}

// ParsePictureType parses "I", "P" or "B" (case-insensitive).
func ParsePictureType(s string) (PictureType, error) {
	switch s {
	case "I", "i":
		return PictureI, nil
	case "P", "p":
		return PictureP, nil
	case "B", "b":
		return PictureB, nil
	default:
		return PictureI, fmt.Errorf("unknown picture type: %q", s)
	}
}

// FieldSelector selects the whole frame or one field of an interlaced buffer.
type FieldSelector int

const (
	FieldFrame FieldSelector = iota
	FieldTop
	FieldBottom
)

// String returns the string representation of the field selector.
func (f FieldSelector) String() string {
	switch f {
	case FieldTop:
		return "top"
	case FieldBottom:
		return "bottom"
	default:
		return "frame"
	}
}

// IsField reports whether the selector names a single field.
func (f FieldSelector) IsField() bool {
	return f == FieldTop || f == FieldBottom
}

// QualityTier groups target-usage values that share kernel variants and tables.
type QualityTier int

const (
	TierQuality QualityTier = iota
	TierNormal
	TierSpeed
)

// String returns the string representation of the tier.
func (t QualityTier) String() string {
	switch t {
	case TierQuality:
		return "quality"
	case TierNormal:
		return "normal"
	case TierSpeed:
		return "speed"
	default:
		return "unknown"
	}
}

// TierForTargetUsage maps a 1..7 target usage to a quality tier.
// Out-of-range values fall back to the normal tier.
func TierForTargetUsage(tu int) QualityTier {
	switch {
	case tu == 1 || tu == 2:
		return TierQuality
	case tu == 6 || tu == 7:
		return TierSpeed
	default:
		return TierNormal
	}
}

// RateControlMode selects the bitrate-control algorithm of a session.
type RateControlMode int

const (
	// RateControlCQP disables adaptive bitrate control; every picture uses its given QP.
	RateControlCQP RateControlMode = iota
	// RateControlCBR is constant bitrate.
	RateControlCBR
	// RateControlVBR is variable bitrate bounded by a peak rate.
	RateControlVBR
	// RateControlAVBR is average variable bitrate with convergence control.
	RateControlAVBR
	// RateControlICQ is constant quality driven by a quality factor.
	RateControlICQ
	// RateControlQVBR is quality-defined variable bitrate.
	RateControlQVBR
	// RateControlVCM is constrained variable bitrate for video conferencing.
	RateControlVCM
)

// String returns the string representation of the mode.
func (m RateControlMode) String() string {
	switch m {
	case RateControlCQP:
		return "cqp"
	case RateControlCBR:
		return "cbr"
	case RateControlVBR:
		return "vbr"
	case RateControlAVBR:
		return "avbr"
	case RateControlICQ:
		return "icq"
	case RateControlQVBR:
		return "qvbr"
	case RateControlVCM:
		return "vcm"
	default:
		return "unknown"
	}
}

// ParseRateControlMode parses a mode name.
func ParseRateControlMode(s string) (RateControlMode, error) {
	switch s {
	case "cqp":
		return RateControlCQP, nil
	case "cbr", "":
		return RateControlCBR, nil
	case "vbr":
		return RateControlVBR, nil
	case "avbr":
		return RateControlAVBR, nil
	case "icq":
		return RateControlICQ, nil
	case "qvbr":
		return RateControlQVBR, nil
	case "vcm":
		return RateControlVCM, nil
	default:
		return RateControlCBR, fmt.Errorf("unknown rate control mode: %q", s)
	}
}

// Adaptive reports whether the mode runs the bitrate-control feedback loop.
func (m RateControlMode) Adaptive() bool {
	return m != RateControlCQP
}

// VariableRate reports whether the mode uses the variable-rate threshold curves.
func (m RateControlMode) VariableRate() bool {
	return m == RateControlVBR || m == RateControlQVBR || m == RateControlVCM
}
