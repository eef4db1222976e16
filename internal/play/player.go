package play

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// players in order of preference
var players = []string{"mpv", "ffplay", "vlc"}

type Player struct {
	lookPath func(string) (string, error)
}

func New() *Player {
	return &Player{lookPath: exec.LookPath}
}

func (p *Player) Play(videoFile string) error {
	// Check if file exists
	if _, err := os.Stat(videoFile); err != nil {
		return fmt.Errorf("recording not found: %s", videoFile)
	}

	player, err := p.findVideoPlayer()
	if err != nil {
		return fmt.Errorf("no suitable video player found: %w", err)
	}

	fmt.Printf("Playing: %s\n", videoFile)

	cmd := exec.Command(player, playerArgs(player, videoFile)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

func playerArgs(player, file string) []string {
	switch player {
	case "mpv":
		return []string{"--keep-open=no", file}
	case "ffplay":
		return []string{"-autoexit", "-hide_banner", "-loglevel", "error", file}
	case "vlc":
		return []string{"--play-and-exit", file}
	}
	return []string{file}
}

func (p *Player) findVideoPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no video player found (tried: %s)", strings.Join(players, ", "))
}
