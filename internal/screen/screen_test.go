package screen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/audiolibrelab/screenrec/internal/capture"
)

func TestBGRAToBGR(t *testing.T) {
	// 5 pixels exercises both the unrolled loop and the tail.
	bgra := []byte{
		1, 2, 3, 255,
		4, 5, 6, 255,
		7, 8, 9, 0,
		10, 11, 12, 128,
		13, 14, 15, 255,
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	got := BGRAToBGR(bgra, 5, 1)
	if !bytes.Equal(got, want) {
		t.Errorf("BGRAToBGR = %v, want %v", got, want)
	}
}

func TestBGRAToBGR_ShortInput(t *testing.T) {
	got := BGRAToBGR([]byte{9, 8, 7, 6}, 2, 1)
	if len(got) != 6 {
		t.Fatalf("output must always be full frame size, got %d bytes", len(got))
	}
	if !bytes.Equal(got[:3], []byte{9, 8, 7}) || !bytes.Equal(got[3:], []byte{0, 0, 0}) {
		t.Errorf("unexpected output %v", got)
	}
}

func TestBuildArgs(t *testing.T) {
	region := capture.Region{Top: 10, Left: 20, Width: 1280, Height: 720}

	tests := []struct {
		name     string
		opts     Options
		contains []string
	}{
		{
			name: "x11grab",
			opts: Options{Backend: BackendX11Grab, Display: ":1.0"},
			contains: []string{
				"-f x11grab", "-framerate 30", "-video_size 1280x720", "-i :1.0+20,10",
				"-f rawvideo -pix_fmt bgra pipe:1",
			},
		},
		{
			name:     "x11grab default display",
			opts:     Options{Backend: BackendX11Grab},
			contains: []string{"-i :0.0+20,10"},
		},
		{
			name: "gdigrab",
			opts: Options{Backend: BackendGDIGrab, DrawCursor: true},
			contains: []string{
				"-f gdigrab", "-draw_mouse 1", "-offset_x 20", "-offset_y 10", "-i desktop",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := buildArgs(tt.opts, region, 30)
			if err != nil {
				t.Fatalf("buildArgs failed: %v", err)
			}
			joined := strings.Join(args, " ")
			for _, c := range tt.contains {
				if !strings.Contains(joined, c) {
					t.Errorf("args %q missing %q", joined, c)
				}
			}
		})
	}
}

func TestBuildArgs_Invalid(t *testing.T) {
	region := capture.Region{Width: 640, Height: 480}

	if _, err := buildArgs(Options{Backend: "kmsgrab"}, region, 30); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("expected ErrUnsupportedBackend, got: %v", err)
	}
	if _, err := buildArgs(Options{Backend: BackendX11Grab}, capture.Region{Width: 0, Height: 480}, 30); err == nil {
		t.Error("expected error for empty region")
	}
	if _, err := buildArgs(Options{Backend: BackendX11Grab}, region, 0); err == nil {
		t.Error("expected error for zero fps")
	}
}

func TestGrab_NotOpened(t *testing.T) {
	g := NewFFmpegGrabber(Options{})
	if _, err := g.Grab(); err == nil {
		t.Error("expected error when grabbing before Open")
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close on unopened grabber should be a no-op, got: %v", err)
	}
}
