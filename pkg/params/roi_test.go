package params

import (
	"testing"

	"github.com/user/framebrc/pkg/ports"
)

const (
	testWidthMB  = 8
	testHeightMB = 6
)

func at(x, y int) int {
	return y*testWidthMB + x
}

func TestBuildROIMap_Priority(t *testing.T) {
	pic := ports.PictureParams{
		Type: ports.PictureP,
		ROIs: []ports.ROI{{Rect: ports.Rect{Left: 2, Top: 2, Right: 4, Bottom: 4}, Priority: 2}},
	}
	m := BuildROIMap(testWidthMB, testHeightMB, pic, 0, false)
	if !m.Active() {
		t.Fatal("map not active")
	}
	if got := m.Values[at(3, 3)]; got != 12 {
		t.Errorf("inside value = %d, want 12", got)
	}
	if got := m.Levels[at(3, 3)]; got != 15 {
		t.Errorf("inside level = %d, want 15", got)
	}
	if m.Values[at(1, 1)] != 0 || m.Levels[at(1, 1)] != 0 {
		t.Errorf("outside MB = %d/%d, want 0/0", m.Values[at(1, 1)], m.Levels[at(1, 1)])
	}
	// 48 MBs over a 4 MB region: 2 * (12 - 1).
	if m.Ratio != 22 {
		t.Errorf("Ratio = %d, want 22", m.Ratio)
	}
}

func TestBuildROIMap_DeltaQP(t *testing.T) {
	pic := ports.PictureParams{
		Type:       ports.PictureI,
		ROIDeltaQP: true,
		ROIs:       []ports.ROI{{Rect: ports.Rect{Left: 0, Top: 0, Right: 2, Bottom: 2}, DeltaQP: -5}},
	}
	m := BuildROIMap(testWidthMB, testHeightMB, pic, 0, false)
	if got := m.Values[at(0, 0)]; got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
	if m.Ratio != 0 {
		t.Errorf("Ratio = %d, want 0 in delta QP mode", m.Ratio)
	}
}

func TestBuildROIMap_EarlierRegionWins(t *testing.T) {
	pic := ports.PictureParams{
		ROIs: []ports.ROI{
			{Rect: ports.Rect{Left: 0, Top: 0, Right: 4, Bottom: 4}, Priority: 1},
			{Rect: ports.Rect{Left: 2, Top: 2, Right: 6, Bottom: 6}, Priority: 3},
		},
	}
	m := BuildROIMap(testWidthMB, testHeightMB, pic, 0, false)
	if got := m.Values[at(3, 3)]; got != 6 {
		t.Errorf("overlap value = %d, want first region 6", got)
	}
	if got := m.Values[at(5, 5)]; got != 18 {
		t.Errorf("second region value = %d, want 18", got)
	}
}

func TestBuildROIMap_Smoothing(t *testing.T) {
	pic := ports.PictureParams{
		ROIs: []ports.ROI{{Rect: ports.Rect{Left: 3, Top: 3, Right: 5, Bottom: 5}, Priority: 1}},
	}
	m := BuildROIMap(testWidthMB, testHeightMB, pic, 2, false)

	tests := []struct {
		x, y  int
		level uint8
		value int8
	}{
		{3, 3, 15, 6},
		{2, 3, 14, 6},
		{1, 3, 13, 6},
		{0, 3, 0, 0},
	}
	for _, tt := range tests {
		mb := at(tt.x, tt.y)
		if m.Levels[mb] != tt.level || m.Values[mb] != tt.value {
			t.Errorf("MB (%d,%d) = level %d value %d, want %d/%d", tt.x, tt.y, m.Levels[mb], m.Values[mb], tt.level, tt.value)
		}
	}
}

func TestBuildROIMap_Limits(t *testing.T) {
	var rois []ports.ROI
	for i := 0; i < 6; i++ {
		rois = append(rois, ports.ROI{Rect: ports.Rect{Left: i, Top: 0, Right: i + 1, Bottom: 1}, Priority: 10})
	}
	m := BuildROIMap(testWidthMB, testHeightMB, ports.PictureParams{ROIs: rois}, 0, false)

	if m.Count != MaxRegions {
		t.Errorf("Count = %d, want %d", m.Count, MaxRegions)
	}
	if got := m.Values[at(0, 0)]; got != 51 {
		t.Errorf("value = %d, want clamp 51", got)
	}
	if got := m.Values[at(5, 0)]; got != 0 {
		t.Errorf("fifth region applied: value %d", got)
	}
	// Four single-MB regions: 2 * (48/4 - 1).
	if m.Ratio != 22 {
		t.Errorf("Ratio = %d, want 22", m.Ratio)
	}

	single := ports.PictureParams{ROIs: rois[:1]}
	if got := BuildROIMap(testWidthMB, testHeightMB, single, 0, false).Ratio; got != 51 {
		t.Errorf("single MB Ratio = %d, want clamp 51", got)
	}
}

func TestBuildROIMap_DirtyRects(t *testing.T) {
	pic := ports.PictureParams{
		Type:       ports.PictureP,
		References: []ports.RefEntry{{FrameIndex: 4, List: 0}},
		DirtyRects: []ports.Rect{{Left: 0, Top: 0, Right: 2, Bottom: 1}},
	}

	if !DirtyRectsUsable(pic, 4) {
		t.Fatal("dirty rects not usable against previous reconstruction")
	}
	m := BuildROIMap(testWidthMB, testHeightMB, pic, 0, true)
	if !m.Active() || !m.Dirty {
		t.Fatalf("map = %+v, want active dirty map", m)
	}
	if m.Levels[at(1, 0)] != 15 || m.Levels[at(2, 0)] != 0 {
		t.Errorf("levels = %d/%d, want 15 inside and 0 outside", m.Levels[at(1, 0)], m.Levels[at(2, 0)])
	}

	if BuildROIMap(testWidthMB, testHeightMB, pic, 0, false) != nil {
		t.Error("unusable dirty rects produced a map")
	}
}

func TestDirtyRectsUsable(t *testing.T) {
	rects := []ports.Rect{{Left: 0, Top: 0, Right: 1, Bottom: 1}}
	tests := []struct {
		name string
		pic  ports.PictureParams
		prev int
		want bool
	}{
		{"previous recon", ports.PictureParams{Type: ports.PictureP, DirtyRects: rects, References: []ports.RefEntry{{FrameIndex: 7}}}, 7, true},
		{"older reference", ports.PictureParams{Type: ports.PictureP, DirtyRects: rects, References: []ports.RefEntry{{FrameIndex: 5}}}, 7, false},
		{"B picture", ports.PictureParams{Type: ports.PictureB, DirtyRects: rects, References: []ports.RefEntry{{FrameIndex: 7}}}, 7, false},
		{"no reconstruction", ports.PictureParams{Type: ports.PictureP, DirtyRects: rects, References: []ports.RefEntry{{FrameIndex: 0}}}, -1, false},
		{"no rects", ports.PictureParams{Type: ports.PictureP, References: []ports.RefEntry{{FrameIndex: 7}}}, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirtyRectsUsable(tt.pic, tt.prev); got != tt.want {
				t.Errorf("DirtyRectsUsable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildROIMap_ROIsTakePrecedence(t *testing.T) {
	pic := ports.PictureParams{
		Type:       ports.PictureP,
		References: []ports.RefEntry{{FrameIndex: 0}},
		ROIs:       []ports.ROI{{Rect: ports.Rect{Left: 0, Top: 0, Right: 1, Bottom: 1}, Priority: 1}},
		DirtyRects: []ports.Rect{{Left: 4, Top: 4, Right: 6, Bottom: 6}},
	}
	m := BuildROIMap(testWidthMB, testHeightMB, pic, 0, true)
	if m.Dirty {
		t.Error("dirty rects used alongside ROIs")
	}
}
