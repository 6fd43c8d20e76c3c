package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/your-org/deepguard/internal/observability"
)

// maxFrameBytes bounds a single JPEG read from ffmpeg.
const maxFrameBytes = 10 * 1024 * 1024

// Video decodes frames of one source with ffmpeg. Decoded JPEG buffers live
// until Close.
type Video struct {
	source string
	info   MediaInfo

	mu     sync.RWMutex
	frames map[int][]byte
}

// Open probes source and returns a Video ready for frame extraction.
func Open(ctx context.Context, source string) (*Video, error) {
	info, err := Probe(ctx, source)
	if err != nil {
		return nil, err
	}
	return &Video{source: source, info: *info, frames: make(map[int][]byte)}, nil
}

func (v *Video) Info() MediaInfo { return v.info }
func (v *Video) FrameCount() int { return v.info.FrameCount }
func (v *Video) FPS() float64    { return v.info.FPS }

// Prefetch decodes all indices in a single ffmpeg pass.
func (v *Video) Prefetch(ctx context.Context, indices []int) error {
	frames, err := extractFrames(ctx, v.source, indices)
	if err != nil {
		return err
	}
	v.mu.Lock()
	for k, data := range frames {
		v.frames[k] = data
	}
	v.mu.Unlock()
	return nil
}

// Frame returns the decoded frame at index, extracting it on demand when it
// was not prefetched.
func (v *Video) Frame(ctx context.Context, index int) (image.Image, error) {
	if index < 0 || index >= v.info.FrameCount {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", index, v.info.FrameCount)
	}

	v.mu.RLock()
	data, ok := v.frames[index]
	v.mu.RUnlock()

	if !ok {
		frames, err := extractFrames(ctx, v.source, []int{index})
		if err != nil {
			return nil, err
		}
		if data, ok = frames[index]; !ok {
			return nil, fmt.Errorf("frame %d not decoded", index)
		}
		v.mu.Lock()
		v.frames[index] = data
		v.mu.Unlock()
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	return img, nil
}

// Close drops the decoded frame buffers.
func (v *Video) Close() error {
	v.mu.Lock()
	v.frames = make(map[int][]byte)
	v.mu.Unlock()
	return nil
}

// extractFrames runs ffmpeg once, selecting the given source frame indices
// and piping them out as MJPEG. ffmpeg emits selected frames in index order.
func extractFrames(ctx context.Context, source string, indices []int) (map[int][]byte, error) {
	if len(indices) == 0 {
		return map[int][]byte{}, nil
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(source, sorted)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	frames := make(map[int][]byte, len(sorted))
	readErr := readJPEGFrames(stdout, func(data []byte) error {
		if len(frames) >= len(sorted) {
			return errors.New("ffmpeg produced more frames than selected")
		}
		frames[sorted[len(frames)]] = data
		return nil
	})
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if readErr != nil {
		return nil, fmt.Errorf("read frames: %w", readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if len(frames) == 0 {
		return nil, errors.New("ffmpeg produced no frames")
	}
	if len(frames) < len(sorted) {
		slog.Warn("ffmpeg returned fewer frames than selected",
			"source", source, "want", len(sorted), "got", len(frames))
	}

	observability.InferenceDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	return frames, nil
}

func ffmpegArgs(source string, indices []int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	return append(args,
		"-i", source,
		"-vf", selectFilter(indices),
		"-vsync", "0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
}

// selectFilter builds select='eq(n\,a)+eq(n\,b)...'. Commas are escaped for
// the filtergraph parser.
func selectFilter(indices []int) string {
	var b strings.Builder
	b.WriteString("select=")
	for i, idx := range indices {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString(`eq(n\,`)
		b.WriteString(strconv.Itoa(idx))
		b.WriteByte(')')
	}
	return b.String()
}

// readJPEGFrames splits a stream of concatenated JPEG images and calls fn
// for each complete one. A stream ending mid-frame after at least one frame
// is treated as a normal end.
func readJPEGFrames(r io.Reader, fn func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0

	for {
		if err := findJPEGStart(reader); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		data, err := readUntilJPEGEnd(reader)
		if err != nil {
			if errors.Is(err, io.EOF) && framesRead > 0 {
				return nil
			}
			return err
		}

		framesRead++
		if err := fn(data); err != nil {
			return err
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
		if b == 0xFF {
			_ = r.UnreadByte()
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
