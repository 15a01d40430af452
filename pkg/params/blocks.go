package params

import (
	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
)

// ScalingParams drives the downscale and analysis stage.
type ScalingParams struct {
	Frame      int                 `json:"frame"`
	Field      ports.FieldSelector `json:"field"`
	WidthInMB  int                 `json:"width_in_mb"`
	HeightInMB int                 `json:"height_in_mb"`
	Output16x  bool                `json:"output_16x"`
	Output32x  bool                `json:"output_32x"`
	// MBStatistics requests per-MB variance for the rate control.
	MBStatistics bool `json:"mb_statistics"`
	Flatness     bool `json:"flatness"`
}

func (ScalingParams) Stage() ports.StageKind { return ports.StageScaling }

// MotionSearchParams drives one level of the hierarchical motion search.
type MotionSearchParams struct {
	Frame      int                          `json:"frame"`
	Picture    ports.PictureType            `json:"picture"`
	Level      pipeline.HMELevel            `json:"level"`
	WidthInMB  int                          `json:"width_in_mb"` // at the level's scale
	HeightInMB int                          `json:"height_in_mb"`
	NumRefL0   int                          `json:"num_ref_l0"`
	NumRefL1   int                          `json:"num_ref_l1"`
	Search     descriptor.MotionSearchTable `json:"search"`
	// UsePrevious seeds the search with the vectors of the coarser level.
	UsePrevious bool `json:"use_previous"`
	// WriteDistortion is set on the finest level only.
	WriteDistortion bool `json:"write_distortion"`
}

func (MotionSearchParams) Stage() ports.StageKind { return ports.StageMotionSearch }

// StaticFrameParams configures the static frame check.
type StaticFrameParams struct {
	Frame         int               `json:"frame"`
	Picture       ports.PictureType `json:"picture"`
	QP            int               `json:"qp"`
	CostThreshold uint8             `json:"cost_threshold"`
	SkipThreshold uint16            `json:"skip_threshold"`
	NumRefs       int               `json:"num_refs"`
}

func (StaticFrameParams) Stage() ports.StageKind { return ports.StageStaticFrameCheck }

// RateControlInitParams initializes or resets the device side of the rate control.
// It is rebuilt only on init and reset.
type RateControlInitParams struct {
	Mode              ports.RateControlMode    `json:"mode"`
	TargetBitRate     int64                    `json:"target_bit_rate"`
	MaxBitRate        int64                    `json:"max_bit_rate"`
	MinBitRate        int64                    `json:"min_bit_rate"`
	FrameRateNum      uint32                   `json:"frame_rate_num"`
	FrameRateDen      uint32                   `json:"frame_rate_den"`
	BufferSize        int64                    `json:"buffer_size"`
	InitialFullness   int64                    `json:"initial_fullness"`
	InputBitsPerFrame int64                    `json:"input_bits_per_frame"`
	BPSRatio          float64                  `json:"bps_ratio"`
	GopP              int                      `json:"gop_p"`
	GopB              int                      `json:"gop_b"`
	Thresholds        ratecontrol.ThresholdSet `json:"thresholds"`
	ICQQualityFactor  int                      `json:"icq_quality_factor"`
	AVBR              ratecontrol.AVBRParams   `json:"avbr"`
	Reset             bool                     `json:"reset"`
	FieldCoding       bool                     `json:"field_coding"`
}

func (RateControlInitParams) Stage() ports.StageKind { return ports.StageRateControlInit }

// IntraDistortionParams configures the 4x intra distortion pass.
type IntraDistortionParams struct {
	Frame       int               `json:"frame"`
	Picture     ports.PictureType `json:"picture"`
	WidthInMB   int               `json:"width_in_mb"` // at 4x
	HeightInMB  int               `json:"height_in_mb"`
	SceneChange bool              `json:"scene_change"`
}

func (IntraDistortionParams) Stage() ports.StageKind { return ports.StageIntraDistortion }

// MacroblockEncodeParams drives one macroblock encode pass.
type MacroblockEncodeParams struct {
	Frame        int                          `json:"frame"`
	Pass         int                          `json:"pass"`
	Picture      ports.PictureType            `json:"picture"`
	Field        ports.FieldSelector          `json:"field"`
	WidthInMB    int                          `json:"width_in_mb"`
	HeightInMB   int                          `json:"height_in_mb"`
	QP           int                          `json:"qp"`
	MinQP        int                          `json:"min_qp"`
	MaxQP        int                          `json:"max_qp"`
	Panic        bool                         `json:"panic"`
	TargetBits   int64                        `json:"target_bits"`
	ModeCosts    [8]uint8                     `json:"mode_costs"`
	Search       descriptor.MotionSearchTable `json:"search"`
	NumRefL0     int                          `json:"num_ref_l0"`
	NumRefL1     int                          `json:"num_ref_l1"`
	UseHME       bool                         `json:"use_hme"`
	NumSlices    int                          `json:"num_slices"`
	WeightedPred bool                         `json:"weighted_pred"`

	// SkipBias favours skip decisions on a static frame.
	SkipBias      bool   `json:"skip_bias"`
	SkipThreshold uint16 `json:"skip_threshold"`

	IntraRefresh ports.IntraRefresh `json:"intra_refresh"`

	// MBQPMap holds the QP deltas of the previous pass, nil on pass 0.
	MBQPMap []int8 `json:"-"`
	// ROI is bound on pass 0 only.
	ROI        *pipeline.ROIMap `json:"-"`
	UseMBQPMap bool             `json:"use_mb_qp_map"`
	UseROI     bool             `json:"use_roi"`
}

func (MacroblockEncodeParams) Stage() ports.StageKind { return ports.StageMacroblockEncode }

// RateControlUpdateParams carries the per-pass frame budget to the device.
type RateControlUpdateParams struct {
	Frame              int                    `json:"frame"`
	Pass               int                    `json:"pass"`
	MaxPasses          int                    `json:"max_passes"`
	Picture            ports.PictureType      `json:"picture"`
	QP                 int                    `json:"qp"`
	MinQP              int                    `json:"min_qp"`
	MaxQP              int                    `json:"max_qp"`
	TargetBits         int64                  `json:"target_bits"`
	StartFullness      int64                  `json:"start_fullness"`
	Fullness           int64                  `json:"fullness"`
	TargetSizeExceeded bool                   `json:"target_size_exceeded"`
	NumSkipFrames      int                    `json:"num_skip_frames"`
	SkipBits           int64                  `json:"skip_bits"`
	Thresholds         ratecontrol.Thresholds `json:"thresholds"`
	Panic              bool                   `json:"panic"`
	PanicAllowed       bool                   `json:"panic_allowed"`
	SceneChange        bool                   `json:"scene_change"`
	ForceSkip          bool                   `json:"force_skip"`
	AVBR               ratecontrol.AVBRParams `json:"avbr"`
}

func (RateControlUpdateParams) Stage() ports.StageKind { return ports.StageRateControlUpdate }

// MacroblockRateControlParams configures the per-MB QP map update for the next pass.
type MacroblockRateControlParams struct {
	Frame    int               `json:"frame"`
	Pass     int               `json:"pass"`
	Picture  ports.PictureType `json:"picture"`
	MBBRC    bool              `json:"mb_brc"`
	ROICount int               `json:"roi_count"`
	ROIRatio int               `json:"roi_ratio"`
	DirtyROI bool              `json:"dirty_roi"`
	DeltaQP  bool              `json:"delta_qp"`

	ROI *pipeline.ROIMap `json:"-"`
}

func (MacroblockRateControlParams) Stage() ports.StageKind { return ports.StageMacroblockRateControl }

// WeightedPredictionParams prepares the weighted copy of one reference.
type WeightedPredictionParams struct {
	Frame          int  `json:"frame"`
	List           int  `json:"list"`
	RefIndex       int  `json:"ref_index"`
	RefFrame       int  `json:"ref_frame"`
	LumaLog2Denom  int  `json:"luma_log2_denom"`
	ExplicitBipred bool `json:"explicit_bipred"`
}

func (WeightedPredictionParams) Stage() ports.StageKind { return ports.StageWeightedPrediction }

// PacketizeParams drives slice-level packetization of one slice.
type PacketizeParams struct {
	Frame     int                 `json:"frame"`
	Slice     int                 `json:"slice"`
	FirstMB   int                 `json:"first_mb"`
	NumMBs    int                 `json:"num_mbs"`
	SliceQP   int                 `json:"slice_qp"`
	Picture   ports.PictureType   `json:"picture"`
	Field     ports.FieldSelector `json:"field"`
	IDR       bool                `json:"idr"`
	Reference bool                `json:"reference"`
	Passes    int                 `json:"passes"`
}

func (PacketizeParams) Stage() ports.StageKind { return ports.StageSlicePacketize }

var (
	_ ports.ParameterBlock = ScalingParams{}
	_ ports.ParameterBlock = MotionSearchParams{}
	_ ports.ParameterBlock = StaticFrameParams{}
	_ ports.ParameterBlock = RateControlInitParams{}
	_ ports.ParameterBlock = IntraDistortionParams{}
	_ ports.ParameterBlock = MacroblockEncodeParams{}
	_ ports.ParameterBlock = RateControlUpdateParams{}
	_ ports.ParameterBlock = MacroblockRateControlParams{}
	_ ports.ParameterBlock = WeightedPredictionParams{}
	_ ports.ParameterBlock = PacketizeParams{}
)
