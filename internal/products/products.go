// Package products detects the products shown in a capture video and
// caches the results in a sidecar file next to the video.
package products

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"shopscan/internal/correlate"
	"shopscan/internal/frames"
	"shopscan/internal/logging"
	"shopscan/internal/services"
	"shopscan/internal/services/oracle"
	"shopscan/internal/trajectory"
)

const stageName = "analysis"

// Detection is one detected product with its appearance time and, when a
// trajectory was available, the camera position at that moment.
type Detection struct {
	Name    string  `json:"name"`
	Price   *string `json:"price"`
	TimeMin int     `json:"time_min"`
	TimeSec int     `json:"time_sec"`
	TimeMS  int     `json:"time_ms"`

	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

// Seconds returns the appearance time in seconds.
func (d Detection) Seconds() float64 {
	return correlate.Seconds(d.TimeMin, d.TimeSec, d.TimeMS)
}

// SidecarPath returns the detection cache path for a video: the video path
// with its extension replaced by ".json".
func SidecarPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".json"
}

// TrajectoryPath returns the camera trajectory path conventionally written
// next to the video by the reconstruction service.
func TrajectoryPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".txt"
}

// ImageDir returns the directory product frame images are written to.
func ImageDir(videoPath string) string {
	return filepath.Join(filepath.Dir(videoPath), "img")
}

// Analyzer asks the vision oracle which products a video contains.
type Analyzer interface {
	AnalyzeVideo(ctx context.Context, videoPath string) ([]oracle.Detection, error)
}

// DecoderFactory opens a frame decoder for a video.
type DecoderFactory func(ctx context.Context, videoPath string) (frames.Decoder, error)

// Service runs product detection with sidecar caching, coordinate
// correlation, and sharpest-frame extraction.
type Service struct {
	analyzer  Analyzer
	extractor *frames.Extractor
	decoders  DecoderFactory
	logger    *slog.Logger
}

// NewService wires a detection service. A nil decoder factory disables
// frame extraction.
func NewService(analyzer Analyzer, extractor *frames.Extractor, decoders DecoderFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if extractor == nil {
		extractor = frames.NewExtractor(0, 0, logger)
	}
	return &Service{analyzer: analyzer, extractor: extractor, decoders: decoders, logger: logger}
}

// Detect returns the products in the video. A readable sidecar file is
// authoritative and short-circuits the oracle call; a corrupt one counts as
// a cache miss. Fresh results get coordinates attached from the trajectory
// file, are written back to the sidecar, and have their frames extracted.
func (s *Service) Detect(ctx context.Context, videoPath string) ([]Detection, error) {
	sidecar := SidecarPath(videoPath)
	if cached, err := readSidecar(sidecar); err == nil {
		s.logger.Info("loaded cached detections",
			logging.String("sidecar", sidecar),
			logging.Int("count", len(cached)))
		// A hit skips the oracle but not the frame images: an earlier run
		// may have failed after writing the sidecar.
		if imagesMissing(videoPath, len(cached)) {
			s.extractFrames(ctx, videoPath, cached)
		}
		return cached, nil
	} else if !os.IsNotExist(err) {
		s.logger.Warn("unreadable detection sidecar, re-analyzing",
			logging.String("sidecar", sidecar),
			logging.Error(err))
	}

	raw, err := s.analyzer.AnalyzeVideo(ctx, videoPath)
	if err != nil {
		return nil, services.Wrap(services.ErrOracle, stageName, "detect", "analyze video", err)
	}

	detections := make([]Detection, len(raw))
	for i, d := range raw {
		detections[i] = Detection{
			Name:    d.Name,
			Price:   d.Price,
			TimeMin: d.TimeMin,
			TimeSec: d.TimeSec,
			TimeMS:  d.TimeMS,
		}
	}
	s.attachCoordinates(detections, videoPath)

	if err := writeSidecar(sidecar, detections); err != nil {
		return nil, services.Wrap(services.ErrOracle, stageName, "detect", "write sidecar", err)
	}
	s.extractFrames(ctx, videoPath, detections)
	return detections, nil
}

// attachCoordinates fills X/Y/Z from the nearest trajectory sample. A
// missing or empty trajectory file leaves the detections untouched.
func (s *Service) attachCoordinates(detections []Detection, videoPath string) {
	trajPath := TrajectoryPath(videoPath)
	samples, err := trajectory.ParseFile(trajPath)
	if err != nil {
		s.logger.Warn("no trajectory for coordinate correlation",
			logging.String("path", trajPath),
			logging.Error(err))
		return
	}
	if len(samples) == 0 {
		return
	}
	for i := range detections {
		sample, ok := correlate.Nearest(samples, detections[i].Seconds())
		if !ok {
			continue
		}
		x, y, z := sample.X, sample.Y, sample.Z
		detections[i].X = &x
		detections[i].Y = &y
		detections[i].Z = &z
	}
}

// extractFrames saves the sharpest frame per detection under img/. Frame
// extraction is best effort: failures are logged, never returned.
func (s *Service) extractFrames(ctx context.Context, videoPath string, detections []Detection) {
	if s.decoders == nil || len(detections) == 0 {
		return
	}
	decoder, err := s.decoders(ctx, videoPath)
	if err != nil {
		s.logger.Warn("could not open frame decoder",
			logging.String("video", videoPath),
			logging.Error(err))
		return
	}
	if closer, ok := decoder.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	targets := make([]int, len(detections))
	for i, d := range detections {
		targets[i] = int(d.Seconds() * 1000)
	}
	if _, err := s.extractor.SaveAll(ctx, decoder, targets, ImageDir(videoPath)); err != nil {
		s.logger.Warn("frame extraction failed",
			logging.String("video", videoPath),
			logging.Error(err))
	}
}

// imagesMissing reports whether any of the first count detections lacks its
// frame image under img/.
func imagesMissing(videoPath string, count int) bool {
	dir := ImageDir(videoPath)
	for i := 0; i < count; i++ {
		if _, err := os.Stat(filepath.Join(dir, strconv.Itoa(i)+".png")); err != nil {
			return true
		}
	}
	return false
}

func readSidecar(path string) ([]Detection, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var detections []Detection
	if err := json.Unmarshal(payload, &detections); err != nil {
		return nil, err
	}
	return detections, nil
}

func writeSidecar(path string, detections []Detection) error {
	payload, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// ReadSidecar loads cached detections for a video, returning nil when no
// usable sidecar exists.
func ReadSidecar(videoPath string) []Detection {
	detections, err := readSidecar(SidecarPath(videoPath))
	if err != nil {
		return nil
	}
	return detections
}
