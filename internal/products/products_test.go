package products

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shopscan/internal/frames"
	"shopscan/internal/services"
	"shopscan/internal/services/oracle"
)

type fakeAnalyzer struct {
	detections []oracle.Detection
	err        error
	calls      int
}

func (a *fakeAnalyzer) AnalyzeVideo(_ context.Context, _ string) ([]oracle.Detection, error) {
	a.calls++
	return a.detections, a.err
}

func strPtr(s string) *string { return &s }

func writeVideo(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "aisle.mp4")
	if err := os.WriteFile(path, []byte("v"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

func TestDetectWritesSidecarAndAttachesCoordinates(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	trajData := "9.0 1.0 2.0 3.0\n11.0 4.0 5.0 6.0\n"
	if err := os.WriteFile(filepath.Join(dir, "aisle.txt"), []byte(trajData), 0o644); err != nil {
		t.Fatalf("write trajectory: %v", err)
	}

	analyzer := &fakeAnalyzer{detections: []oracle.Detection{
		{Name: "cola", Price: strPtr("1500"), TimeMin: 0, TimeSec: 10, TimeMS: 0},
	}}
	svc := NewService(analyzer, nil, nil, nil)

	detections, err := svc.Detect(context.Background(), video)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}
	d := detections[0]
	// 10.0s is equidistant from 9.0 and 11.0; the earlier sample wins.
	if d.X == nil || *d.X != 1.0 || *d.Y != 2.0 || *d.Z != 3.0 {
		t.Fatalf("unexpected coordinates: %+v", d)
	}

	payload, err := os.ReadFile(SidecarPath(video))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var persisted []Detection
	if err := json.Unmarshal(payload, &persisted); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if len(persisted) != 1 || persisted[0].Name != "cola" || persisted[0].X == nil {
		t.Fatalf("unexpected sidecar contents: %+v", persisted)
	}
}

func TestDetectSidecarCacheShortCircuitsOracle(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	cached := []Detection{{Name: "snack", TimeMin: 1, TimeSec: 2, TimeMS: 3}}
	payload, _ := json.Marshal(cached)
	if err := os.WriteFile(SidecarPath(video), payload, 0o644); err != nil {
		t.Fatalf("seed sidecar: %v", err)
	}

	analyzer := &fakeAnalyzer{err: errors.New("should not be called")}
	svc := NewService(analyzer, nil, nil, nil)

	detections, err := svc.Detect(context.Background(), video)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if analyzer.calls != 0 {
		t.Fatalf("oracle called %d times despite cache", analyzer.calls)
	}
	if len(detections) != 1 || detections[0].Name != "snack" {
		t.Fatalf("unexpected cached detections: %+v", detections)
	}
}

func TestDetectCorruptSidecarIsCacheMiss(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	if err := os.WriteFile(SidecarPath(video), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("seed sidecar: %v", err)
	}

	analyzer := &fakeAnalyzer{detections: []oracle.Detection{{Name: "juice"}}}
	svc := NewService(analyzer, nil, nil, nil)

	detections, err := svc.Detect(context.Background(), video)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if analyzer.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", analyzer.calls)
	}
	if len(detections) != 1 || detections[0].Name != "juice" {
		t.Fatalf("unexpected detections: %+v", detections)
	}

	// The rewritten sidecar must now parse cleanly.
	if cached := ReadSidecar(video); len(cached) != 1 {
		t.Fatalf("sidecar not repaired: %+v", cached)
	}
}

func TestDetectMissingTrajectoryLeavesCoordinatesNil(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	analyzer := &fakeAnalyzer{detections: []oracle.Detection{{Name: "bread", TimeSec: 5}}}
	svc := NewService(analyzer, nil, nil, nil)

	detections, err := svc.Detect(context.Background(), video)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if detections[0].X != nil || detections[0].Y != nil || detections[0].Z != nil {
		t.Fatalf("coordinates should be nil without trajectory: %+v", detections[0])
	}
}

func TestDetectOracleFailureIsTagged(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	analyzer := &fakeAnalyzer{err: errors.New("quota exceeded")}
	svc := NewService(analyzer, nil, nil, nil)

	_, err := svc.Detect(context.Background(), video)
	if !errors.Is(err, services.ErrOracle) {
		t.Fatalf("expected ErrOracle, got %v", err)
	}
	if services.Fatal(err) {
		t.Fatal("oracle failures must be survivable")
	}
	if _, statErr := os.Stat(SidecarPath(video)); !os.IsNotExist(statErr) {
		t.Fatal("no sidecar should be written on oracle failure")
	}
}

type fakeFrameDecoder struct{ frame *frames.Frame }

func (d *fakeFrameDecoder) DecodeAt(_ context.Context, _ int) (*frames.Frame, error) {
	return d.frame, nil
}

func TestDetectExtractsFramesPerDetection(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	analyzer := &fakeAnalyzer{detections: []oracle.Detection{
		{Name: "a", TimeSec: 1},
		{Name: "b", TimeSec: 2},
	}}

	pix := make([]byte, 8*8*3)
	for i := range pix {
		if i%7 == 0 {
			pix[i] = 255
		}
	}
	factory := func(_ context.Context, _ string) (frames.Decoder, error) {
		return &fakeFrameDecoder{frame: &frames.Frame{Width: 8, Height: 8, Pix: pix}}, nil
	}
	svc := NewService(analyzer, frames.NewExtractor(10, 5, nil), factory, nil)

	if _, err := svc.Detect(context.Background(), video); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, name := range []string{"0.png", "1.png"} {
		if _, err := os.Stat(filepath.Join(ImageDir(video), name)); err != nil {
			t.Fatalf("expected frame image %s: %v", name, err)
		}
	}
}

func TestDetectCacheHitBackfillsMissingFrames(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	cached := []Detection{{Name: "snack", TimeSec: 1}}
	payload, _ := json.Marshal(cached)
	if err := os.WriteFile(SidecarPath(video), payload, 0o644); err != nil {
		t.Fatalf("seed sidecar: %v", err)
	}

	pix := make([]byte, 8*8*3)
	for i := range pix {
		if i%7 == 0 {
			pix[i] = 255
		}
	}
	opened := 0
	factory := func(_ context.Context, _ string) (frames.Decoder, error) {
		opened++
		return &fakeFrameDecoder{frame: &frames.Frame{Width: 8, Height: 8, Pix: pix}}, nil
	}
	analyzer := &fakeAnalyzer{err: errors.New("should not be called")}
	svc := NewService(analyzer, frames.NewExtractor(10, 5, nil), factory, nil)

	if _, err := svc.Detect(context.Background(), video); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if analyzer.calls != 0 {
		t.Fatalf("oracle called %d times despite cache", analyzer.calls)
	}
	if opened != 1 {
		t.Fatalf("decoder opened %d times, want 1", opened)
	}
	if _, err := os.Stat(filepath.Join(ImageDir(video), "0.png")); err != nil {
		t.Fatalf("expected backfilled frame image: %v", err)
	}

	// A second hit with the image present skips extraction entirely.
	if _, err := svc.Detect(context.Background(), video); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if opened != 1 {
		t.Fatalf("decoder reopened on a hit with images present: %d", opened)
	}
}

func TestDetectDecoderFailureIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	analyzer := &fakeAnalyzer{detections: []oracle.Detection{{Name: "a", TimeSec: 1}}}
	factory := func(_ context.Context, _ string) (frames.Decoder, error) {
		return nil, errors.New("no ffmpeg")
	}
	svc := NewService(analyzer, nil, factory, nil)

	if _, err := svc.Detect(context.Background(), video); err != nil {
		t.Fatalf("Detect should tolerate decoder failure: %v", err)
	}
}

func TestSidecarAndTrajectoryPaths(t *testing.T) {
	if got := SidecarPath("/media/1/1.mp4"); got != "/media/1/1.json" {
		t.Fatalf("SidecarPath = %q", got)
	}
	if got := TrajectoryPath("/media/1/1.mp4"); got != "/media/1/1.txt" {
		t.Fatalf("TrajectoryPath = %q", got)
	}
	if got := ImageDir("/media/1/1.mp4"); got != "/media/1/img" {
		t.Fatalf("ImageDir = %q", got)
	}
}
