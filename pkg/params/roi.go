package params

import (
	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
)

const (
	// MaxRegions is the number of ROIs or dirty rectangles honoured per picture.
	MaxRegions = 4
	// MaxSmoothing is the widest smoothing apron in macroblocks.
	MaxSmoothing = 3

	levelInside = 15
	maxROIValue = 51
)

// apronLevels are the map levels at 1, 2 and 3 MBs outside a region.
var apronLevels = [MaxSmoothing]uint8{14, 13, 12}

// BuildROIMap builds the per-MB region map of pic. ROIs take precedence over
// dirty rectangles. Dirty rectangles are used only when dirtyUsable is set.
// It returns nil when the picture carries no usable region.
func BuildROIMap(widthMB, heightMB int, pic ports.PictureParams, smoothing int, dirtyUsable bool) *pipeline.ROIMap {
	if widthMB <= 0 || heightMB <= 0 {
		return nil
	}
	switch {
	case len(pic.ROIs) > 0:
		return buildRegionMap(widthMB, heightMB, pic, smoothing)
	case len(pic.DirtyRects) > 0 && dirtyUsable:
		return buildDirtyMap(widthMB, heightMB, pic.DirtyRects)
	}
	return nil
}

func buildRegionMap(widthMB, heightMB int, pic ports.PictureParams, smoothing int) *pipeline.ROIMap {
	rois := pic.ROIs
	if len(rois) > MaxRegions {
		rois = rois[:MaxRegions]
	}
	smoothing = min(max(smoothing, 0), MaxSmoothing)

	numMBs := widthMB * heightMB
	m := &pipeline.ROIMap{
		Values: make([]int8, numMBs),
		Levels: make([]uint8, numMBs),
		Count:  len(rois),
	}
	for mb := 0; mb < numMBs; mb++ {
		x, y := mb%widthMB, mb/widthMB
		// Later regions are visited first so that earlier ones overwrite them.
		for i := len(rois) - 1; i >= 0; i-- {
			v := roiValue(rois[i], pic.ROIDeltaQP)
			if v == 0 {
				continue
			}
			if rois[i].Rect.Contains(x, y) {
				m.Values[mb], m.Levels[mb] = v, levelInside
				continue
			}
			for d := 1; d <= smoothing; d++ {
				if rois[i].Rect.Expand(d).Contains(x, y) {
					m.Values[mb], m.Levels[mb] = v, apronLevels[d-1]
					break
				}
			}
		}
	}
	if !pic.ROIDeltaQP {
		m.Ratio = roiRatio(numMBs, rois)
	}
	return m
}

func buildDirtyMap(widthMB, heightMB int, rects []ports.Rect) *pipeline.ROIMap {
	if len(rects) > MaxRegions {
		rects = rects[:MaxRegions]
	}
	numMBs := widthMB * heightMB
	m := &pipeline.ROIMap{
		Values: make([]int8, numMBs),
		Levels: make([]uint8, numMBs),
		Count:  len(rects),
		Dirty:  true,
	}
	for mb := 0; mb < numMBs; mb++ {
		x, y := mb%widthMB, mb/widthMB
		for _, r := range rects {
			if r.Contains(x, y) {
				m.Levels[mb] = levelInside
				break
			}
		}
	}
	return m
}

// roiValue is the map value of a region: six QP steps per priority level, or
// the negated delta QP.
func roiValue(r ports.ROI, deltaQP bool) int8 {
	v := r.Priority * 6
	if deltaQP {
		v = -r.DeltaQP
	}
	return int8(min(max(v, -maxROIValue), maxROIValue))
}

// roiRatio relates the frame size to the covered size. Overlapping regions
// are counted once per region.
func roiRatio(numMBs int, rois []ports.ROI) int {
	size := 0
	for _, r := range rois {
		size += r.Rect.Area() * 256
	}
	if size == 0 {
		return 0
	}
	ratio := 2 * (numMBs*256/size - 1)
	return min(max(ratio, 0), maxROIValue)
}

// DirtyRectsUsable reports whether dirty rectangles may steer pic: only a P
// picture whose first L0 reference is the previous reconstruction qualifies.
func DirtyRectsUsable(pic ports.PictureParams, previousReconstruction int) bool {
	if pic.Type != ports.PictureP || len(pic.DirtyRects) == 0 || previousReconstruction < 0 {
		return false
	}
	for _, ref := range pic.References {
		if ref.List == 0 {
			return ref.FrameIndex == previousReconstruction
		}
	}
	return false
}
