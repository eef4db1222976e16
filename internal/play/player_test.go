package play

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlayerArgs(t *testing.T) {
	tests := []struct {
		player string
		want   string
	}{
		{"mpv", "--keep-open=no out.mp4"},
		{"ffplay", "-autoexit -hide_banner -loglevel error out.mp4"},
		{"vlc", "--play-and-exit out.mp4"},
		{"other", "out.mp4"},
	}
	for _, tt := range tests {
		if got := strings.Join(playerArgs(tt.player, "out.mp4"), " "); got != tt.want {
			t.Errorf("playerArgs(%s) = %q, want %q", tt.player, got, tt.want)
		}
	}
}

func TestFindVideoPlayer(t *testing.T) {
	installed := map[string]bool{"vlc": true, "ffplay": true}
	p := &Player{lookPath: func(name string) (string, error) {
		if installed[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}}

	got, err := p.findVideoPlayer()
	if err != nil {
		t.Fatalf("findVideoPlayer failed: %v", err)
	}
	if got != "ffplay" {
		t.Errorf("Expected ffplay to be preferred over vlc, got %s", got)
	}

	p.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if _, err := p.findVideoPlayer(); err == nil || !strings.Contains(err.Error(), "mpv, ffplay, vlc") {
		t.Errorf("Expected error listing tried players, got: %v", err)
	}
}

func TestPlay_MissingFile(t *testing.T) {
	err := New().Play(filepath.Join(t.TempDir(), "missing.mp4"))
	if err == nil || !strings.Contains(err.Error(), "recording not found") {
		t.Errorf("Expected missing file error, got: %v", err)
	}
}
