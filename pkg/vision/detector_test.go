package vision

import (
	"context"
	"image"
	"image/color"
	"testing"
)

// createTestImage draws a white square on a black background
func createTestImage(width, height int, square image.Rectangle) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if image.Pt(x, y).In(square) {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	return img
}

func TestNew(t *testing.T) {
	detector := New()
	if detector == nil {
		t.Fatal("New() returned nil")
	}
	if detector.config.EdgeThreshold != 0.01 {
		t.Errorf("Expected edge threshold 0.01, got %f", detector.config.EdgeThreshold)
	}
	if detector.config.AnalysisSize != 256 {
		t.Errorf("Expected analysis size 256, got %d", detector.config.AnalysisSize)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DetectionConfig{
		EdgeThreshold:   0.2,
		ContrastWeight:  0.4,
		ColorWeight:     0.3,
		MinSubjectRatio: 0.2,
		MaxRegions:      3,
	}

	detector := NewWithConfig(cfg)
	if detector.config.EdgeThreshold != 0.2 {
		t.Errorf("Expected edge threshold 0.2, got %f", detector.config.EdgeThreshold)
	}
	if detector.config.MaxRegions != 3 {
		t.Errorf("Expected 3 max regions, got %d", detector.config.MaxRegions)
	}
}

func TestDetectFindsSubject(t *testing.T) {
	square := image.Rect(40, 40, 80, 80)
	img := createTestImage(120, 120, square)

	dets, err := New().Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) == 0 {
		t.Fatal("Expected at least one region")
	}
	if len(dets) > 10 {
		t.Errorf("Expected at most 10 regions, got %d", len(dets))
	}

	top := dets[0]
	if top.Score != 1.0 {
		t.Errorf("Expected top score 1.0, got %f", top.Score)
	}
	cx := int((top.Box.X1 + top.Box.X2) / 2)
	cy := int((top.Box.Y1 + top.Box.Y2) / 2)
	if !image.Pt(cx, cy).In(square) {
		t.Errorf("Expected top region centered on the subject, got %+v", top.Box)
	}

	for i, d := range dets {
		if d.Label != Label {
			t.Errorf("Region %d: unexpected label %q", i, d.Label)
		}
		if d.Score <= 0 || d.Score > 1 {
			t.Errorf("Region %d: score %f out of range", i, d.Score)
		}
		if i > 0 && d.Score > dets[i-1].Score {
			t.Errorf("Regions not sorted by score at %d", i)
		}
	}
}

func TestDetectScalesBackToSource(t *testing.T) {
	square := image.Rect(400, 300, 700, 600)
	img := createTestImage(1000, 800, square)

	dets, err := New().Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) == 0 {
		t.Fatal("Expected at least one region")
	}
	for _, d := range dets {
		if d.Box.X1 < 0 || d.Box.Y1 < 0 || d.Box.X2 > 1000.5 || d.Box.Y2 > 800.5 {
			t.Errorf("Region outside source image: %+v", d.Box)
		}
	}
	top := dets[0].Box
	cx := int((top.X1 + top.X2) / 2)
	cy := int((top.Y1 + top.Y2) / 2)
	if !image.Pt(cx, cy).In(square) {
		t.Errorf("Expected top region on the subject in source pixels, got %+v", top)
	}
}

func TestDetectFlatImage(t *testing.T) {
	img := createTestImage(100, 100, image.Rectangle{})

	dets, err := New().Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Expected no regions in a black image, got %d", len(dets))
	}
}

func TestDetectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().Detect(ctx, createTestImage(64, 64, image.Rect(10, 10, 30, 30))); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestSummedArea(t *testing.T) {
	values := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	s := newSummedArea(values, 3, 2)

	if got := s.mean(0, 0, 3, 2); got != 3.5 {
		t.Errorf("Expected mean 3.5, got %f", got)
	}
	if got := s.mean(1, 1, 2, 1); got != 5.5 {
		t.Errorf("Expected mean 5.5, got %f", got)
	}
}

func BenchmarkDetect(b *testing.B) {
	img := createTestImage(1024, 768, image.Rect(300, 200, 600, 500))
	detector := New()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = detector.Detect(ctx, img)
	}
}
