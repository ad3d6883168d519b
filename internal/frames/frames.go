// Package frames extracts the sharpest video frame near a timestamp.
//
// Sharpness is scored as the variance of the Laplacian of the grayscale
// frame: a crisp frame has strong local intensity changes and therefore a
// high variance, while a motion-blurred one scores low.
package frames

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"shopscan/internal/logging"
)

// Frame is a single decoded video frame in packed 24-bit RGB.
// Decoders may reuse the backing Pix slice between calls, so callers that
// hold on to a frame must copy it first.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Clone returns a deep copy of the frame with its own pixel buffer.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		Width:  f.Width,
		Height: f.Height,
		Pix:    append([]byte(nil), f.Pix...),
	}
}

// Decoder produces frames at arbitrary millisecond offsets into a video.
type Decoder interface {
	DecodeAt(ctx context.Context, offsetMS int) (*Frame, error)
}

// Extractor searches a window around target timestamps and writes the
// sharpest frame found as a PNG.
type Extractor struct {
	SearchRangeMS int
	StepMS        int

	logger *slog.Logger
}

// NewExtractor builds an extractor with the given search window. Zero or
// negative values fall back to a 50ms range scanned in 5ms steps.
func NewExtractor(searchRangeMS, stepMS int, logger *slog.Logger) *Extractor {
	if searchRangeMS <= 0 {
		searchRangeMS = 50
	}
	if stepMS <= 0 {
		stepMS = 5
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{SearchRangeMS: searchRangeMS, StepMS: stepMS, logger: logger}
}

// SaveBest scans [targetMS-range, targetMS+range) in StepMS increments,
// scores every decodable frame, and writes the sharpest one to path.
// When no frame in the window decodes it returns ("", nil): an unreadable
// window skips the image without failing the caller.
func (e *Extractor) SaveBest(ctx context.Context, dec Decoder, targetMS int, path string) (string, error) {
	startMS := targetMS - e.SearchRangeMS
	if startMS < 0 {
		startMS = 0
	}
	endMS := targetMS + e.SearchRangeMS

	var best *Frame
	bestScore := -1.0
	bestMS := -1

	for current := startMS; current < endMS; current += e.StepMS {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		frame, err := dec.DecodeAt(ctx, current)
		if err != nil {
			continue
		}
		score := FocusScore(frame)
		if score > bestScore {
			bestScore = score
			best = frame.Clone()
			bestMS = current
		}
	}

	if best == nil {
		e.logger.Warn("no decodable frame in search window",
			logging.Int("target_ms", targetMS))
		return "", nil
	}

	if err := writePNG(path, best); err != nil {
		return "", err
	}
	e.logger.Debug("saved sharpest frame",
		logging.String("path", path),
		logging.Int("chosen_ms", bestMS),
		logging.Float64("focus_score", bestScore))
	return path, nil
}

// SaveAll extracts one image per target timestamp into dir, naming files by
// index ("0.png", "1.png", ...). Returns the written paths; entries whose
// window could not be decoded are empty strings.
func (e *Extractor) SaveAll(ctx context.Context, dec Decoder, targetsMS []int, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	paths := make([]string, len(targetsMS))
	for i, target := range targetsMS {
		path, err := e.SaveBest(ctx, dec, target, filepath.Join(dir, fmt.Sprintf("%d.png", i)))
		if err != nil {
			return paths, err
		}
		paths[i] = path
	}
	return paths, nil
}

// FocusScore computes the variance of the Laplacian of the grayscale frame.
// Higher scores mean sharper frames. Nil or degenerate frames score 0.
func FocusScore(f *Frame) float64 {
	if f == nil || f.Width < 3 || f.Height < 3 || len(f.Pix) < f.Width*f.Height*3 {
		return 0
	}
	w, h := f.Width, f.Height
	gray := make([]float64, w*h)
	for i := 0; i < w*h; i++ {
		r := float64(f.Pix[i*3])
		g := float64(f.Pix[i*3+1])
		b := float64(f.Pix[i*3+2])
		gray[i] = 0.299*r + 0.587*g + 0.114*b
	}

	// 4-connected Laplacian over interior pixels.
	n := (w - 2) * (h - 2)
	sum := 0.0
	sumSq := 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			lap := 4*gray[i] - gray[i-1] - gray[i+1] - gray[i-w] - gray[i+w]
			sum += lap
			sumSq += lap * lap
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func writePNG(path string, f *Frame) error {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[i*4] = f.Pix[i*3]
		img.Pix[i*4+1] = f.Pix[i*3+1]
		img.Pix[i*4+2] = f.Pix[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame image: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encode frame image: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close frame image: %w", err)
	}
	return nil
}
