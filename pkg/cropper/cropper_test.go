package cropper

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

// createTestImage creates an image whose pixels encode their own coordinates
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func box(x1, y1, x2, y2, score float64) types.Detection {
	return types.Detection{Box: types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

// assertSubImage checks that crop equals src at the given origin
func assertSubImage(t *testing.T, src, crop image.Image, origin image.Point) {
	t.Helper()
	b := crop.Bounds()
	if b.Min != (image.Point{}) {
		t.Fatalf("Expected crop re-based at origin, got %v", b)
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r1, g1, b1, _ := crop.At(x, y).RGBA()
			r2, g2, b2, _ := src.At(origin.X+x, origin.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 {
				t.Fatalf("Pixel mismatch at %d,%d", x, y)
			}
		}
	}
}

func TestNew(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
	if c.Config().Policy != PolicyLast {
		t.Errorf("Expected default policy %q, got %q", PolicyLast, c.Config().Policy)
	}
	if c.Config().Fallback {
		t.Error("Expected fallback disabled by default")
	}
}

func TestCropSingleDetection(t *testing.T) {
	img := createTestImage(100, 80)

	crop, selected, err := New().Crop(img, []types.Detection{box(10, 20, 40, 60, 0.9)})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if crop.Bounds().Dx() != 30 || crop.Bounds().Dy() != 40 {
		t.Errorf("Expected 30x40 crop, got %v", crop.Bounds())
	}
	if selected.Score != 0.9 {
		t.Errorf("Unexpected selected detection %+v", selected)
	}
	assertSubImage(t, img, crop, image.Pt(10, 20))
}

func TestCropTruncatesCoordinates(t *testing.T) {
	img := createTestImage(100, 100)

	crop, _, err := New().Crop(img, []types.Detection{box(10.9, 5.2, 20.7, 15.99, 0.9)})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if crop.Bounds().Dx() != 10 || crop.Bounds().Dy() != 10 {
		t.Errorf("Expected 10x10 crop, got %v", crop.Bounds())
	}
	assertSubImage(t, img, crop, image.Pt(10, 5))
}

func TestCropMultipleDetectionsKeepsLast(t *testing.T) {
	img := createTestImage(100, 100)
	dets := []types.Detection{
		box(0, 0, 50, 50, 0.99),
		box(60, 60, 90, 95, 0.86),
		box(5, 5, 15, 25, 0.9),
	}

	crop, selected, err := New().Crop(img, dets)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if selected.Box != dets[2].Box {
		t.Errorf("Expected last detection, got %+v", selected.Box)
	}
	assertSubImage(t, img, crop, image.Pt(5, 5))
}

func TestSelectPolicies(t *testing.T) {
	dets := []types.Detection{
		box(0, 0, 10, 10, 0.7),
		box(0, 0, 50, 50, 0.8),
		box(0, 0, 20, 20, 0.95),
		box(0, 0, 5, 5, 0.9),
	}

	tests := []struct {
		policy Policy
		want   int
	}{
		{PolicyLast, 3},
		{PolicyHighestScore, 2},
		{PolicyLargest, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			got := Select(dets, tt.policy)
			if got != dets[tt.want] {
				t.Errorf("Expected detection %d, got %+v", tt.want, got)
			}
			if i := SelectIndex(dets, tt.policy); i != tt.want {
				t.Errorf("Expected index %d, got %d", tt.want, i)
			}
		})
	}
}

func TestSelectIndexDuplicates(t *testing.T) {
	dets := []types.Detection{
		box(0, 0, 10, 10, 0.9),
		box(0, 0, 10, 10, 0.9),
	}

	tests := []struct {
		policy Policy
		want   int
	}{
		{PolicyLast, 1},
		{PolicyHighestScore, 0},
		{PolicyLargest, 0},
	}

	for _, tt := range tests {
		if i := SelectIndex(dets, tt.policy); i != tt.want {
			t.Errorf("SelectIndex(%s) = %d, want %d", tt.policy, i, tt.want)
		}
	}
	if i := SelectIndex(nil, PolicyLast); i != -1 {
		t.Errorf("Expected -1 for no detections, got %d", i)
	}
}

func TestCropNoDetections(t *testing.T) {
	_, _, err := New().Crop(createTestImage(10, 10), nil)
	if !errors.Is(err, ErrNoDetections) {
		t.Errorf("Expected ErrNoDetections, got %v", err)
	}
}

func TestCropEmptyRegion(t *testing.T) {
	img := createTestImage(50, 50)

	tests := []struct {
		name string
		det  types.Detection
	}{
		{"zero width", box(10, 10, 10, 30, 0.9)},
		{"inverted", box(30, 30, 10, 10, 0.9)},
		{"outside", box(60, 60, 80, 80, 0.9)},
		{"sub-pixel", box(10.2, 10.1, 10.8, 10.9, 0.9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New().Crop(img, []types.Detection{tt.det})
			if !errors.Is(err, ErrEmptyCrop) {
				t.Errorf("Expected ErrEmptyCrop, got %v", err)
			}
		})
	}
}

func TestCropClipsToBounds(t *testing.T) {
	img := createTestImage(40, 30)

	crop, _, err := New().Crop(img, []types.Detection{box(-10, -10, 20, 100, 0.9)})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if crop.Bounds().Dx() != 20 || crop.Bounds().Dy() != 30 {
		t.Errorf("Expected 20x30 crop, got %v", crop.Bounds())
	}
}

func TestCropPadding(t *testing.T) {
	img := createTestImage(100, 100)
	c := NewWithConfig(CropConfig{PaddingRatio: 0.1})

	crop, _, err := c.Crop(img, []types.Detection{box(20, 20, 70, 70, 0.9)})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if crop.Bounds().Dx() != 60 || crop.Bounds().Dy() != 60 {
		t.Errorf("Expected 60x60 padded crop, got %v", crop.Bounds())
	}
	assertSubImage(t, img, crop, image.Pt(15, 15))
}

func TestCropSmartcropFallback(t *testing.T) {
	img := createTestImage(120, 60)
	c := NewWithConfig(CropConfig{Fallback: true})

	crop, selected, err := c.Crop(img, nil)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if selected.Label != SmartcropLabel {
		t.Errorf("Expected synthetic %q detection, got %q", SmartcropLabel, selected.Label)
	}
	if selected.Score != 0 {
		t.Errorf("Expected zero score, got %f", selected.Score)
	}
	if crop.Bounds().Empty() || crop.Bounds().Dy() > 60 {
		t.Errorf("Expected a crop inside the image, got %v", crop.Bounds())
	}
}

func TestCropSubImageOrigin(t *testing.T) {
	full := createTestImage(100, 100).(*image.RGBA)
	sub := full.SubImage(image.Rect(50, 50, 100, 100))

	crop, _, err := New().Crop(sub, []types.Detection{box(0, 0, 10, 10, 0.9)})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	assertSubImage(t, full, crop, image.Pt(50, 50))
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyLast, "Last": PolicyLast, "largest": PolicyLargest, "highest_score": PolicyHighestScore} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("first"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func BenchmarkCrop(b *testing.B) {
	img := createTestImage(1000, 800)
	c := New()
	dets := []types.Detection{box(100, 100, 600, 500, 0.9)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Crop(img, dets)
	}
}
