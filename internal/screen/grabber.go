package screen

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/audiolibrelab/screenrec/internal/capture"
	"github.com/audiolibrelab/screenrec/internal/ffmpeg"
)

// Backend names the ffmpeg input device used to read the display.
type Backend string

const (
	BackendX11Grab Backend = "x11grab"
	BackendGDIGrab Backend = "gdigrab"
)

var ErrUnsupportedBackend = errors.New("unsupported screen capture backend")

// Options configures an FFmpegGrabber.
type Options struct {
	FFmpegPath string
	Backend    Backend
	// Display is the X11 display, e.g. ":0.0". Ignored by gdigrab.
	Display string
	// GrabTimeout bounds how long Grab waits for a frame.
	GrabTimeout time.Duration
	DrawCursor  bool
}

// FFmpegGrabber reads BGRA frames of a screen region from an ffmpeg
// process and hands them out as packed BGR24.
type FFmpegGrabber struct {
	opts   Options
	region capture.Region

	proc   *ffmpeg.Process
	chunks *ffmpeg.ChunkReader
}

func NewFFmpegGrabber(opts Options) *FFmpegGrabber {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Backend == "" {
		opts.Backend = BackendX11Grab
	}
	return &FFmpegGrabber{opts: opts}
}

func (g *FFmpegGrabber) Open(region capture.Region, fps int) error {
	args, err := buildArgs(g.opts, region, fps)
	if err != nil {
		return err
	}

	proc, err := ffmpeg.Start("screen", g.opts.FFmpegPath, args)
	if err != nil {
		return fmt.Errorf("failed to start screen capture: %w", err)
	}

	g.region = region
	g.proc = proc
	// ffmpeg delivers BGRA; conversion to BGR happens per frame.
	g.chunks = ffmpeg.NewChunkReader(proc.Stdout(), region.Width*region.Height*4, g.opts.GrabTimeout)

	slog.Info("Screen capture opened", "backend", g.opts.Backend, "region", region.String(), "fps", fps)
	return nil
}

func (g *FFmpegGrabber) Grab() ([]byte, error) {
	if g.chunks == nil {
		return nil, fmt.Errorf("screen capture not opened")
	}
	bgra, err := g.chunks.Next()
	if errors.Is(err, ffmpeg.ErrTimeout) {
		select {
		case <-g.proc.Exited():
			return nil, g.proc.ExitError()
		default:
		}
		return nil, capture.ErrGrabTimeout
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			<-g.proc.Exited()
			return nil, g.proc.ExitError()
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return BGRAToBGR(bgra, g.region.Width, g.region.Height), nil
}

func (g *FFmpegGrabber) Close() error {
	if g.proc == nil {
		return nil
	}
	err := g.proc.Stop(ffmpeg.DefaultStopTimeout)
	g.proc = nil
	g.chunks = nil
	return err
}

// buildArgs returns the ffmpeg arguments that write raw BGRA frames of
// region to stdout.
func buildArgs(opts Options, region capture.Region, fps int) ([]string, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("invalid capture region %s", region)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}

	size := fmt.Sprintf("%dx%d", region.Width, region.Height)
	cursor := "0"
	if opts.DrawCursor {
		cursor = "1"
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", ffmpeg.LogLevel(),
	}

	switch opts.Backend {
	case BackendX11Grab:
		display := opts.Display
		if display == "" {
			display = ":0.0"
		}
		args = append(args,
			"-f", "x11grab",
			"-draw_mouse", cursor,
			"-framerate", strconv.Itoa(fps),
			"-video_size", size,
			"-i", fmt.Sprintf("%s+%d,%d", display, region.Left, region.Top),
		)
	case BackendGDIGrab:
		args = append(args,
			"-f", "gdigrab",
			"-draw_mouse", cursor,
			"-framerate", strconv.Itoa(fps),
			"-offset_x", strconv.Itoa(region.Left),
			"-offset_y", strconv.Itoa(region.Top),
			"-video_size", size,
			"-i", "desktop",
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Backend)
	}

	args = append(args,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"pipe:1",
	)
	return args, nil
}
