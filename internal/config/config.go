package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	InheritedValue       = "inherited"
	ProfileSpecificValue = "profile-specific"

	DefaultProfile  = "default"
	timePlaceholder = "{time}"
	timeLayout      = "20060102-150405"
)

// ErrConfigNotFound is returned when the config file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]map[string]any `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Limits  LimitsConfig  `mapstructure:"limits" yaml:"limits"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg" yaml:"ffmpeg"`

	// Profile is the name of the resolved profile
	Profile string `mapstructure:"-" yaml:"-"`
	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type CaptureConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"` // "x11grab", "gdigrab"
	Display     string        `mapstructure:"display" yaml:"display"`
	FPS         int           `mapstructure:"fps" yaml:"fps"`
	GrabTimeout time.Duration `mapstructure:"grab_timeout" yaml:"grab_timeout"`
	DrawCursor  bool          `mapstructure:"draw_cursor" yaml:"draw_cursor"`
	Region      RegionConfig  `mapstructure:"monitor_region" yaml:"monitor_region"`
}

type RegionConfig struct {
	Top    int `mapstructure:"top" yaml:"top"`
	Left   int `mapstructure:"left" yaml:"left"`
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

func (r RegionConfig) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

type AudioConfig struct {
	RecordAudio   bool          `mapstructure:"record_audio" yaml:"record_audio"`
	Backend       string        `mapstructure:"backend" yaml:"backend"` // "pulse", "alsa", "dshow"
	Device        string        `mapstructure:"device" yaml:"device"`
	SampleRate    int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int           `mapstructure:"channels" yaml:"channels"`
	Gain          float64       `mapstructure:"gain" yaml:"gain"`
	BlockDuration time.Duration `mapstructure:"block_duration" yaml:"block_duration"`
}

type OutputConfig struct {
	Path              string `mapstructure:"path" yaml:"path"`
	Codec             string `mapstructure:"codec" yaml:"codec"` // "h264", "h265"
	Bitrate           string `mapstructure:"bitrate" yaml:"bitrate"`
	AudioCodec        string `mapstructure:"audio_codec" yaml:"audio_codec"`
	AudioBitrate      string `mapstructure:"audio_bitrate" yaml:"audio_bitrate"`
	KeepIntermediates bool   `mapstructure:"keep_intermediates" yaml:"keep_intermediates"`
	TempDir           string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

type LimitsConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	// MaxBufferBytes bounds each source's in-memory buffer. 0 means half of
	// the available memory.
	MaxBufferBytes int64 `mapstructure:"max_buffer_bytes" yaml:"max_buffer_bytes"`
}

type FFmpegConfig struct {
	Path      string `mapstructure:"path" yaml:"path"`
	ProbePath string `mapstructure:"probe_path" yaml:"probe_path"`
}

// InheritanceInfo records, per dotted key, whether the value came from the
// selected profile or was inherited from the default profile or built-ins.
type InheritanceInfo struct {
	Profile string
	Fields  map[string]string
}

// Source returns "profile-specific" or "inherited" for key.
func (i *InheritanceInfo) Source(key string) string {
	if i == nil {
		return InheritedValue
	}
	if v, ok := i.Fields[key]; ok {
		return v
	}
	return InheritedValue
}

// trackedKeys are the keys reported by the info command.
var trackedKeys = []string{
	"capture.backend", "capture.display", "capture.fps", "capture.grab_timeout",
	"capture.draw_cursor", "capture.monitor_region",
	"audio.record_audio", "audio.backend", "audio.device", "audio.sample_rate",
	"audio.channels", "audio.gain", "audio.block_duration",
	"output.path", "output.codec", "output.bitrate", "output.audio_codec",
	"output.audio_bitrate", "output.keep_intermediates", "output.temp_dir",
	"limits.max_duration", "limits.max_buffer_bytes",
	"ffmpeg.path", "ffmpeg.probe_path",
}

// TrackedKeys returns the keys carried in InheritanceInfo, sorted.
func TrackedKeys() []string {
	keys := append([]string(nil), trackedKeys...)
	sort.Strings(keys)
	return keys
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Backend:     "x11grab",
			Display:     ":0.0",
			FPS:         30,
			GrabTimeout: 2 * time.Second,
			Region:      RegionConfig{Top: 0, Left: 0, Width: 1920, Height: 1080},
		},
		Audio: AudioConfig{
			RecordAudio:   true,
			Backend:       "pulse",
			Device:        "@DEFAULT_MONITOR@",
			SampleRate:    48000,
			Channels:      2,
			Gain:          2.0,
			BlockDuration: 100 * time.Millisecond,
		},
		Output: OutputConfig{
			Path:         "output.mp4",
			Codec:        "h264",
			Bitrate:      "4000k",
			AudioCodec:   "aac",
			AudioBitrate: "192k",
		},
		FFmpeg: FFmpegConfig{
			Path:      "ffmpeg",
			ProbePath: "ffprobe",
		},
		Profile:     DefaultProfile,
		Inheritance: &InheritanceInfo{Profile: DefaultProfile, Fields: map[string]string{}},
	}
}

// DefaultConfigFile returns $HOME/.config/screenrec.yaml.
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "screenrec.yaml"
	}
	return filepath.Join(home, ".config", "screenrec.yaml")
}

// LoadWithProfile resolves built-in defaults, then configs.default, then
// configs.<profile>. An empty profile selects active_config.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}
	if _, err := os.Stat(configFile); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configFile)
		}
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("SCREENREC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = v.GetString("active_config")
	}
	if configName == "" {
		configName = DefaultProfile
	}

	cfg := Default()
	cfg.Profile = configName

	if len(rootConfig.Configs) > 0 || configName != DefaultProfile {
		if _, exists := rootConfig.Configs[strings.ToLower(configName)]; !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
	}

	// Unmarshal onto the existing struct so absent keys keep their value.
	if base := v.Sub("configs." + DefaultProfile); base != nil {
		if err := base.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("error resolving default configuration: %w", err)
		}
	}
	selected := v.Sub("configs." + configName)
	if selected != nil && configName != DefaultProfile {
		if err := selected.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
		}
	}

	cfg.Inheritance = trackInheritance(configName, selected)
	cfg.Output.TempDir = expandPath(cfg.Output.TempDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func trackInheritance(profile string, selected *viper.Viper) *InheritanceInfo {
	info := &InheritanceInfo{Profile: profile, Fields: make(map[string]string, len(trackedKeys))}
	for _, key := range trackedKeys {
		info.Fields[key] = InheritedValue
		if selected != nil && selected.IsSet(key) {
			info.Fields[key] = ProfileSpecificValue
		}
	}
	return info
}

// OutputPath returns Output.Path with "~/" and the {time} placeholder
// expanded.
func (c *Config) OutputPath(now time.Time) string {
	return ExpandOutputPath(c.Output.Path, now)
}

func ExpandOutputPath(path string, now time.Time) string {
	path = strings.ReplaceAll(path, timePlaceholder, now.Format(timeLayout))
	return expandPath(path)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var regionPattern = regexp.MustCompile(`^(\d+)x(\d+)(?:\+(\d+)\+(\d+))?$`)

// ParseRegion parses "WxH" or "WxH+X+Y".
func ParseRegion(s string) (RegionConfig, error) {
	m := regionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return RegionConfig{}, fmt.Errorf("invalid region %q, expected WxH+X+Y", s)
	}
	var r RegionConfig
	r.Width, _ = strconv.Atoi(m[1])
	r.Height, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		r.Left, _ = strconv.Atoi(m[3])
		r.Top, _ = strconv.Atoi(m[4])
	}
	if r.Width <= 0 || r.Height <= 0 {
		return RegionConfig{}, fmt.Errorf("invalid region %q: size must be positive", s)
	}
	return r, nil
}
