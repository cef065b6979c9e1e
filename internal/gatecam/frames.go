package gatecam

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const maxFrameBytes = 10 << 20

// FrameFunc receives each decoded JPEG frame.
type FrameFunc func(frame []byte)

// FFmpegSource pulls JPEG frames from a camera stream through ffmpeg.
type FFmpegSource struct {
	URL   string
	FPS   int
	Width int

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Capture runs ffmpeg until ctx ends or the stream closes, calling fn for
// every frame.
func (f *FFmpegSource) Capture(ctx context.Context, fn FrameFunc) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", f.args()...)
	f.mu.Lock()
	f.cmd = cmd
	f.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	if err := readJPEGFrames(ctx, stdout, fn); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read frames: %w", err)
	}
	return cmd.Wait()
}

// Watch keeps capturing until ctx ends, restarting ffmpeg with exponential
// backoff (2s doubling to 30s) whenever the stream drops.
func (f *FFmpegSource) Watch(ctx context.Context, fn FrameFunc) error {
	const maxDelay = 30 * time.Second
	delay := 2 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			slog.Warn("restarting camera capture", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
		}

		err := f.Capture(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("camera capture ended", "url", f.URL, "error", err)
	}
}

func (f *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(f.URL, "rtsp://"), strings.HasPrefix(f.URL, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(f.URL, "http://"), strings.HasPrefix(f.URL, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	return append(args,
		"-i", f.URL,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", f.FPS, f.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
}

// Stop kills the running ffmpeg process, if any.
func (f *FFmpegSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmd != nil && f.cmd.Process != nil {
		f.cmd.Process.Kill()
	}
}

// readJPEGFrames splits a stream of concatenated JPEG images on the SOI and
// EOI markers. An empty stream is tolerated for a few seconds while ffmpeg
// connects.
func readJPEGFrames(ctx context.Context, r io.Reader, fn FrameFunc) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	frames := 0
	const maxStartupRetries = 50 // 5s in 100ms steps
	retries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := findJPEGStart(reader)
		if errors.Is(err, io.EOF) {
			if frames > 0 {
				return nil
			}
			if retries < maxStartupRetries {
				retries++
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("no frames received from ffmpeg after %v", time.Duration(retries)*100*time.Millisecond)
		}
		if err != nil {
			return err
		}

		frame, err := readUntilJPEGEnd(reader)
		if errors.Is(err, io.EOF) && frames > 0 {
			return nil
		}
		if err != nil {
			return err
		}

		frames++
		fn(frame)
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
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameBytes)
		}
	}
}
