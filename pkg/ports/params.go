package ports

import "context"

// Rect is a rectangle in macroblock units. Right and Bottom are exclusive.
type Rect struct {
	Left   int `json:"left" yaml:"left"`
	Top    int `json:"top" yaml:"top"`
	Right  int `json:"right" yaml:"right"`
	Bottom int `json:"bottom" yaml:"bottom"`
}

// Area returns the number of macroblocks covered by the rectangle.
func (r Rect) Area() int {
	if r.Right <= r.Left || r.Bottom <= r.Top {
		return 0
	}
	return (r.Right - r.Left) * (r.Bottom - r.Top)
}

// Contains reports whether the macroblock (x, y) lies inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

// Expand grows the rectangle by n macroblocks on every side.
func (r Rect) Expand(n int) Rect {
	return Rect{Left: r.Left - n, Top: r.Top - n, Right: r.Right + n, Bottom: r.Bottom + n}
}

// ROI is a static region of interest.
// Priority applies unless the picture marks ROI values as delta QPs.
type ROI struct {
	Rect     Rect `json:"rect" yaml:"rect"`
	Priority int  `json:"priority" yaml:"priority"`
	DeltaQP  int  `json:"delta_qp" yaml:"delta_qp"`
}

// RefEntry is one entry of a reference picture list.
type RefEntry struct {
	FrameIndex     int  `json:"frame_index"`
	List           int  `json:"list"` // 0 or 1
	LumaWeightFlag bool `json:"luma_weight_flag"`
}

// IntraRefreshMode selects rolling intra refresh.
type IntraRefreshMode int

const (
	IntraRefreshNone IntraRefreshMode = iota
	IntraRefreshRow
	IntraRefreshColumn
)

// IntraRefresh forces a band of macroblocks to intra coding.
type IntraRefresh struct {
	Mode     IntraRefreshMode `json:"mode"`
	Position int              `json:"position"` // first MB row or column of the band
	Size     int              `json:"size"`     // band width in MBs
	QPDelta  int              `json:"qp_delta"`
}

// SequenceParams holds sequence-level values shared by every picture of a session.
type SequenceParams struct {
	Codec      Codec `json:"codec"`
	WidthInMB  int   `json:"width_in_mb"`
	HeightInMB int   `json:"height_in_mb"`

	FrameRateNum uint32 `json:"frame_rate_num"`
	FrameRateDen uint32 `json:"frame_rate_den"`

	RateControl      RateControlMode `json:"rate_control"`
	TargetBitRate    int64           `json:"target_bit_rate"` // bits per second
	MaxBitRate       int64           `json:"max_bit_rate"`
	MinBitRate       int64           `json:"min_bit_rate"`
	BufferSize       int64           `json:"buffer_size"`      // bits, 0 selects the default
	InitialFullness  int64           `json:"initial_fullness"` // bits, 0 selects the default
	ICQQualityFactor int             `json:"icq_quality_factor"`
	AVBRAccuracy     int             `json:"avbr_accuracy"`
	AVBRConvergence  int             `json:"avbr_convergence"`

	GopSize      int `json:"gop_size"`
	GopRefDist   int `json:"gop_ref_dist"` // distance between anchor pictures, 1 means no B pictures
	NumRefFrames int `json:"num_ref_frames"`
	TargetUsage  int `json:"target_usage"`

	HME                  bool `json:"hme"`
	HME16x               bool `json:"hme_16x"`
	HME32x               bool `json:"hme_32x"`
	StaticFrameDetection bool `json:"static_frame_detection"`
	IntraDistortion      bool `json:"intra_distortion"`
	MBBRC                bool `json:"mb_brc"`
	SceneChangeDetection bool `json:"scene_change_detection"`
	SingleTaskPhase      bool `json:"single_task_phase"`
	PanicModeDisable     bool `json:"panic_mode_disable"`
	LowDelay             bool `json:"low_delay"`
	MaxPasses            int  `json:"max_passes"`
}

// NumMBs returns the number of macroblocks in a frame.
func (s SequenceParams) NumMBs() int {
	return s.WidthInMB * s.HeightInMB
}

// PictureParams holds picture-level values of one frame.
type PictureParams struct {
	FrameIndex     int           `json:"frame_index"`
	Type           PictureType   `json:"type"`
	Field          FieldSelector `json:"field"`
	QP             int           `json:"qp"`
	MinQP          int           `json:"min_qp"` // 0 means unbounded
	MaxQP          int           `json:"max_qp"` // 0 means unbounded
	References     []RefEntry    `json:"references"`
	UseAsReference bool          `json:"use_as_reference"`

	WeightedPred      bool `json:"weighted_pred"`
	WeightedBipredIDC int  `json:"weighted_bipred_idc"` // 1 means explicit

	ROIs       []ROI  `json:"rois"`
	ROIDeltaQP bool   `json:"roi_delta_qp"`
	DirtyRects []Rect `json:"dirty_rects"`

	IntraRefresh IntraRefresh `json:"intra_refresh"`

	SkippedFrames    int   `json:"skipped_frames"`
	SkippedBits      int64 `json:"skipped_bits"`
	ResetRateControl bool  `json:"reset_rate_control"`
	DisableFrameSkip bool  `json:"disable_frame_skip"`
	ForceSkipEnable  bool  `json:"force_skip_enable"`
}

// MinMaxQPControl reports whether the picture overrides QP bounds.
func (p PictureParams) MinMaxQPControl() bool {
	return p.MinQP > 0 || p.MaxQP > 0
}

// SliceParams describes one slice of a picture.
type SliceParams struct {
	FirstMB int `json:"first_mb"`
	NumMBs  int `json:"num_mbs"`
	QPDelta int `json:"qp_delta"`
}

// ParameterBundle is the immutable per-frame input of the encoder.
// Callers must not mutate a bundle after handing it to a session.
type ParameterBundle struct {
	Sequence SequenceParams `json:"sequence"`
	Picture  PictureParams  `json:"picture"`
	Slices   []SliceParams  `json:"slices"`
}

// ParameterBundleProvider supplies bundles in encode order.
type ParameterBundleProvider interface {
	// Next returns the next bundle, or io.EOF when the sequence ends.
	Next(ctx context.Context) (*ParameterBundle, error)
}
