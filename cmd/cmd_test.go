package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/screenrec/internal/config"

	"github.com/spf13/cobra"
)

func newFlagCmd(t *testing.T, args ...string) (*cobra.Command, recordFlags) {
	t.Helper()
	saved := recFlags
	t.Cleanup(func() { recFlags = saved })
	recFlags = recordFlags{}

	cmd := &cobra.Command{Use: "test"}
	addRecordFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cmd, recFlags
}

func TestApplyRecordFlags(t *testing.T) {
	cmd, f := newFlagCmd(t, "--fps", "60", "--region", "1280x720+100+50", "--no-audio",
		"--duration", "90s", "--codec", "h265", "--keep-intermediates")
	c := config.Default()

	if err := applyRecordFlags(cmd, c, f); err != nil {
		t.Fatalf("applyRecordFlags failed: %v", err)
	}
	if c.Capture.FPS != 60 {
		t.Errorf("Expected fps 60, got %d", c.Capture.FPS)
	}
	want := config.RegionConfig{Top: 50, Left: 100, Width: 1280, Height: 720}
	if c.Capture.Region != want {
		t.Errorf("Expected region %+v, got %+v", want, c.Capture.Region)
	}
	if c.Audio.RecordAudio {
		t.Error("Expected audio to be disabled")
	}
	if c.Limits.MaxDuration != 90*time.Second {
		t.Errorf("Expected 90s max duration, got %s", c.Limits.MaxDuration)
	}
	if c.Output.Codec != "h265" || !c.Output.KeepIntermediates {
		t.Errorf("Unexpected output config %+v", c.Output)
	}
	// Unset flags keep config values.
	if c.Audio.Gain != config.Default().Audio.Gain {
		t.Errorf("Gain changed without flag: %v", c.Audio.Gain)
	}
}

func TestApplyRecordFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"fps too high", []string{"--fps", "1000"}},
		{"bad region", []string{"--region", "wide"}},
		{"bad codec", []string{"--codec", "vp9"}},
		{"negative gain", []string{"--gain=-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, f := newFlagCmd(t, tt.args...)
			if err := applyRecordFlags(cmd, config.Default(), f); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	savedFile, savedProfile := cfgFile, profile
	t.Cleanup(func() { cfgFile, profile = savedFile, savedProfile })
	t.Setenv("HOME", t.TempDir())

	cfgFile, profile = "", ""
	c, err := loadConfig()
	if err != nil {
		t.Fatalf("Expected built-in defaults without a config file, got: %v", err)
	}
	if c.Capture.FPS != config.Default().Capture.FPS {
		t.Errorf("Expected default fps, got %d", c.Capture.FPS)
	}

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := loadConfig(); !errors.Is(err, config.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound for explicit missing file, got: %v", err)
	}

	cfgFile = filepath.Join(t.TempDir(), "screenrec.yaml")
	yaml := "active_config: default\nconfigs:\n  default:\n    capture:\n      fps: 24\n"
	if err := os.WriteFile(cfgFile, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	c, err = loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if c.Capture.FPS != 24 {
		t.Errorf("Expected fps 24 from file, got %d", c.Capture.FPS)
	}
}

func TestFlattenConfig(t *testing.T) {
	c := config.Default()
	values, err := flattenConfig(c)
	if err != nil {
		t.Fatalf("flattenConfig failed: %v", err)
	}
	if values["capture.monitor_region"] != "1920x1080+0+0" {
		t.Errorf("Unexpected region value %q", values["capture.monitor_region"])
	}
	if values["capture.fps"] != "30" {
		t.Errorf("Unexpected fps value %q", values["capture.fps"])
	}
	if values["audio.block_duration"] != "100ms" {
		t.Errorf("Unexpected block duration %q", values["audio.block_duration"])
	}
}
