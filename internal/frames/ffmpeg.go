package frames

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"shopscan/internal/media/ffprobe"
)

var commandContext = exec.CommandContext

// FFmpegDecoder decodes single frames by invoking ffmpeg with a rawvideo
// RGB output. The decoder reuses one pixel buffer across calls, so returned
// frames alias each other; callers keep a frame with Clone.
type FFmpegDecoder struct {
	binary string
	path   string
	width  int
	height int
	buf    []byte
}

// NewFFmpegDecoder probes the video for its dimensions and prepares a
// decoder for it. ffmpegBinary and ffprobeBinary fall back to the bare
// command names when empty.
func NewFFmpegDecoder(ctx context.Context, ffmpegBinary, ffprobeBinary, path string) (*FFmpegDecoder, error) {
	result, err := ffprobe.Inspect(ctx, ffprobeBinary, path)
	if err != nil {
		return nil, err
	}
	stream, ok := result.FirstVideoStream()
	if !ok {
		return nil, fmt.Errorf("frame decoder: no video stream in %s", path)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("frame decoder: invalid dimensions %dx%d in %s", stream.Width, stream.Height, path)
	}
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &FFmpegDecoder{
		binary: ffmpegBinary,
		path:   path,
		width:  stream.Width,
		height: stream.Height,
		buf:    make([]byte, stream.Width*stream.Height*3),
	}, nil
}

// DecodeAt decodes the frame at the given millisecond offset.
func (d *FFmpegDecoder) DecodeAt(ctx context.Context, offsetMS int) (*Frame, error) {
	if offsetMS < 0 {
		offsetMS = 0
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%d.%03d", offsetMS/1000, offsetMS%1000),
		"-i", d.path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
	cmd := commandContext(ctx, d.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode at %dms: %w: %s", offsetMS, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() < len(d.buf) {
		return nil, fmt.Errorf("ffmpeg decode at %dms: no frame (got %d of %d bytes)", offsetMS, stdout.Len(), len(d.buf))
	}
	copy(d.buf, stdout.Bytes())
	return &Frame{Width: d.width, Height: d.height, Pix: d.buf}, nil
}
