package mux

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/audiolibrelab/screenrec/internal/capture"
	"github.com/audiolibrelab/screenrec/internal/ffmpeg"
)

// VideoJob describes the encode of a frame sequence into a video-only file.
type VideoJob struct {
	Path    string
	Width   int
	Height  int
	FPS     int
	Encoder string // ffmpeg encoder name, e.g. libx264
	Bitrate string
	Frames  []capture.Frame
}

// MuxJob describes the final container write. AudioPath is empty for a
// video-only output.
type MuxJob struct {
	VideoPath    string
	AudioPath    string
	OutputPath   string
	AudioCodec   string
	AudioBitrate string
}

// Encoder is the encoding collaborator the Muxer drives.
type Encoder interface {
	EncodeVideo(ctx context.Context, job VideoJob) error
	Mux(ctx context.Context, job MuxJob) error
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// FFmpegEncoder implements Encoder with the ffmpeg and ffprobe executables.
type FFmpegEncoder struct {
	FFmpegPath string
	ProbePath  string
}

func NewFFmpegEncoder(ffmpegPath, probePath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if probePath == "" {
		probePath = "ffprobe"
	}
	return &FFmpegEncoder{FFmpegPath: ffmpegPath, ProbePath: probePath}
}

// EncodeVideo streams raw BGR24 frames into ffmpeg's stdin. Frames are
// played back at the constant job frame rate.
func (e *FFmpegEncoder) EncodeVideo(ctx context.Context, job VideoJob) error {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, videoArgs(job)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	slog.Debug("Running FFmpeg for video encode", "command", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start video encode: %w", err)
	}

	writeErr := writeFrames(stdin, job.Frames)
	closeErr := stdin.Close()
	waitErr := cmd.Wait()

	if waitErr != nil {
		return fmt.Errorf("FFmpeg video encode failed: %w (stderr: %s)", waitErr, ffmpeg.TailString(stderr.String(), 400))
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write frames: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close encoder input: %w", closeErr)
	}
	return nil
}

func writeFrames(w io.Writer, frames []capture.Frame) error {
	bw := bufio.NewWriterSize(w, 1<<20)
	for i := range frames {
		if _, err := bw.Write(frames[i].Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func videoArgs(job VideoJob) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", ffmpeg.LogLevel(),
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", capture.PixelFormatBGR24,
		"-video_size", fmt.Sprintf("%dx%d", job.Width, job.Height),
		"-framerate", strconv.Itoa(job.FPS),
		"-i", "pipe:0",
		// yuv420p needs even dimensions.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", job.Encoder,
	}
	if job.Bitrate != "" {
		args = append(args, "-b:v", job.Bitrate)
	}
	if job.Encoder == "libx265" {
		args = append(args, "-tag:v", "hvc1")
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(job.FPS),
		"-an",
		job.Path,
	)
	return args
}

// Mux copies the encoded video and encodes the audio intermediate into
// the output container, chosen by file extension.
func (e *FFmpegEncoder) Mux(ctx context.Context, job MuxJob) error {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, muxArgs(job)...)

	slog.Debug("Running FFmpeg for mux", "command", strings.Join(cmd.Args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg mux failed: %w (output: %s)", err, ffmpeg.TailString(string(output), 400))
	}
	return nil
}

func muxArgs(job MuxJob) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", ffmpeg.LogLevel(),
		"-y",
		"-i", job.VideoPath,
	}
	if job.AudioPath != "" {
		args = append(args, "-i", job.AudioPath)
	}
	args = append(args, "-map", "0:v:0")
	if job.AudioPath != "" {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args, "-c:v", "copy")
	if job.AudioPath != "" {
		codec := job.AudioCodec
		if codec == "" {
			codec = "aac"
		}
		args = append(args, "-c:a", codec)
		if job.AudioBitrate != "" {
			args = append(args, "-b:a", job.AudioBitrate)
		}
	} else {
		args = append(args, "-an")
	}

	switch strings.ToLower(filepath.Ext(job.OutputPath)) {
	case ".mp4", ".mov", ".m4v":
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, job.OutputPath)
}

// ProbeResult holds the stream layout of a finished file.
type ProbeResult struct {
	Path     string
	Duration float64
	Streams  []StreamInfo
}

// StreamInfo describes a single stream as reported by ffprobe.
type StreamInfo struct {
	Index      int
	CodecType  string
	CodecName  string
	StartTime  float64
	Duration   float64
	Width      int
	Height     int
	SampleRate int
	Channels   int
}

// Stream returns the first stream of codecType, or nil.
func (p *ProbeResult) Stream(codecType string) *StreamInfo {
	if p == nil {
		return nil
	}
	for i := range p.Streams {
		if p.Streams[i].CodecType == codecType {
			return &p.Streams[i]
		}
	}
	return nil
}

// Probe extracts stream information from path using ffprobe.
func (e *FFmpegEncoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.ProbePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	result, err := parseProbe(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}
	result.Path = path

	slog.Debug("Probe completed", "file", path, "streams", len(result.Streams), "duration", result.Duration)
	return result, nil
}

func parseProbe(output []byte) (*ProbeResult, error) {
	var probeResult struct {
		Streams []struct {
			Index      int    `json:"index"`
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			StartTime  string `json:"start_time"`
			Duration   string `json:"duration"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, err
	}

	result := &ProbeResult{Duration: parseFloat(probeResult.Format.Duration)}
	for _, s := range probeResult.Streams {
		sampleRate, _ := strconv.Atoi(s.SampleRate)
		result.Streams = append(result.Streams, StreamInfo{
			Index:      s.Index,
			CodecType:  s.CodecType,
			CodecName:  s.CodecName,
			StartTime:  parseFloat(s.StartTime),
			Duration:   parseFloat(s.Duration),
			Width:      s.Width,
			Height:     s.Height,
			SampleRate: sampleRate,
			Channels:   s.Channels,
		})
	}
	return result, nil
}

// parseFloat reads ffprobe's string-encoded numbers; "N/A" reads as 0.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
