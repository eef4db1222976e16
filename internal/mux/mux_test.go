package mux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/screenrec/internal/capture"
)

// fakeEncoder writes placeholder files into the muxer's filesystem instead
// of running ffmpeg.
type fakeEncoder struct {
	fs afero.Fs

	videoJob *VideoJob
	muxJob   *MuxJob

	videoErr error
	muxErr   error
	// writeOutputOnError leaves a partial output behind when muxErr is set
	writeOutputOnError bool
}

func (e *fakeEncoder) EncodeVideo(ctx context.Context, job VideoJob) error {
	e.videoJob = &job
	if e.videoErr != nil {
		return e.videoErr
	}
	return afero.WriteFile(e.fs, job.Path, []byte(fmt.Sprintf("video %d frames", len(job.Frames))), 0644)
}

func (e *fakeEncoder) Mux(ctx context.Context, job MuxJob) error {
	e.muxJob = &job
	if e.muxErr != nil {
		if e.writeOutputOnError {
			_ = afero.WriteFile(e.fs, job.OutputPath, []byte("partial"), 0644)
		}
		return e.muxErr
	}
	return afero.WriteFile(e.fs, job.OutputPath, []byte("container"), 0644)
}

func (e *fakeEncoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	result := &ProbeResult{Path: path}
	if e.videoJob != nil {
		d := float64(len(e.videoJob.Frames)) / float64(e.videoJob.FPS)
		result.Duration = d
		result.Streams = append(result.Streams, StreamInfo{Index: 0, CodecType: "video", Duration: d})
	}
	if e.muxJob != nil && e.muxJob.AudioPath != "" {
		result.Streams = append(result.Streams, StreamInfo{Index: 1, CodecType: "audio"})
	}
	return result, nil
}

var testRegion = capture.Region{Width: 4, Height: 2}

func makeSession(frames int, fps int) *capture.Session {
	s := &capture.Session{
		ID:        "test-session",
		FrameRate: fps,
		Region:    testRegion,
	}
	interval := time.Second / time.Duration(fps)
	for i := 0; i < frames; i++ {
		s.Frames = append(s.Frames, capture.Frame{
			Seq:         uint64(i),
			Timestamp:   time.Duration(i) * interval,
			Width:       testRegion.Width,
			Height:      testRegion.Height,
			PixelFormat: capture.PixelFormatBGR24,
			Data:        make([]byte, testRegion.FrameSize()),
		})
	}
	return s
}

func addAudio(s *capture.Session, rate, channels int, start time.Duration, blocks, framesPerBlock int, value float32) {
	s.AudioEnabled = true
	s.SampleRate = rate
	s.Channels = channels
	blockDur := time.Duration(framesPerBlock) * time.Second / time.Duration(rate)
	for i := 0; i < blocks; i++ {
		samples := make([]float32, framesPerBlock*channels)
		for j := range samples {
			samples[j] = value
		}
		s.Audio = append(s.Audio, capture.AudioBlock{
			Seq:        uint64(i),
			Timestamp:  start + time.Duration(i)*blockDur,
			SampleRate: rate,
			Channels:   channels,
			Gain:       1,
			Samples:    samples,
		})
	}
}

func newTestMuxer() (*Muxer, *fakeEncoder, afero.Fs) {
	fs := afero.NewMemMapFs()
	enc := &fakeEncoder{fs: fs}
	return New(fs, enc), enc, fs
}

func countFiles(t *testing.T, fs afero.Fs) int {
	t.Helper()
	n := 0
	err := afero.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walk: %v", err)
	}
	return n
}

func TestMux_EmptySession(t *testing.T) {
	m, enc, fs := newTestMuxer()

	_, err := m.Mux(context.Background(), makeSession(0, 30), "/out/empty.mp4", Options{Codec: "h264"})
	if !errors.Is(err, capture.ErrEmptySession) {
		t.Fatalf("expected ErrEmptySession, got: %v", err)
	}
	if enc.videoJob != nil {
		t.Error("encoder must not run for an empty session")
	}
	if n := countFiles(t, fs); n != 0 {
		t.Errorf("expected no files to be written, found %d", n)
	}

	if _, err := m.Mux(context.Background(), nil, "/out/empty.mp4", Options{Codec: "h264"}); !errors.Is(err, capture.ErrEmptySession) {
		t.Errorf("expected ErrEmptySession for nil session, got: %v", err)
	}
}

func TestMux_VideoOnlyNinetyFrames(t *testing.T) {
	m, enc, fs := newTestMuxer()
	s := makeSession(90, 30)

	result, err := m.Mux(context.Background(), s, "/out/clip.mp4", Options{Codec: "h264", Bitrate: "4000k"})
	if err != nil {
		t.Fatalf("Mux failed: %v", err)
	}

	if result.Frames != 90 {
		t.Errorf("expected 90 frames, got %d", result.Frames)
	}
	if d := result.VideoDuration - 3*time.Second; d < -s.FrameInterval() || d > s.FrameInterval() {
		t.Errorf("expected 3s video, got %s", result.VideoDuration)
	}
	if result.HasAudio {
		t.Error("video-only session reported audio")
	}
	if enc.videoJob.Encoder != "libx264" || enc.videoJob.FPS != 30 || enc.videoJob.Bitrate != "4000k" {
		t.Errorf("unexpected video job %+v", *enc.videoJob)
	}
	if enc.muxJob.AudioPath != "" {
		t.Errorf("expected no audio input, got %q", enc.muxJob.AudioPath)
	}

	video, audio := IntermediatePaths("/out", s.ID)
	if ok, _ := afero.Exists(fs, audio); ok {
		t.Error("no audio intermediate should be created when audio is disabled")
	}
	if ok, _ := afero.Exists(fs, video); ok {
		t.Error("video intermediate should be removed after success")
	}
	if ok, _ := afero.Exists(fs, "/out/clip.mp4"); !ok {
		t.Error("output file missing")
	}
	if enc.muxJob.OutputPath != stagingPath("/out/clip.mp4", s.ID) {
		t.Errorf("container should be written to a staging name, got %q", enc.muxJob.OutputPath)
	}
	if ok, _ := afero.Exists(fs, enc.muxJob.OutputPath); ok {
		t.Error("staged container should be renamed into place")
	}
	if len(result.Intermediates) != 0 {
		t.Errorf("expected no remaining intermediates, got %v", result.Intermediates)
	}
}

func TestMux_WithAudioKeepIntermediates(t *testing.T) {
	m, enc, fs := newTestMuxer()
	s := makeSession(30, 30)
	addAudio(s, 48000, 2, 0, 10, 4800, 0.5)

	result, err := m.Mux(context.Background(), s, "/out/clip.mkv", Options{
		Codec:             "h265",
		AudioCodec:        "aac",
		KeepIntermediates: true,
		TempDir:           "/tmp/work",
	})
	if err != nil {
		t.Fatalf("Mux failed: %v", err)
	}

	if !result.HasAudio {
		t.Fatal("expected audio in result")
	}
	if result.AudioDuration != time.Second {
		t.Errorf("expected 1s audio, got %s", result.AudioDuration)
	}
	if enc.videoJob.Encoder != "libx265" {
		t.Errorf("expected libx265, got %s", enc.videoJob.Encoder)
	}

	_, audioPath := IntermediatePaths("/tmp/work", s.ID)
	if enc.muxJob.AudioPath != audioPath {
		t.Errorf("expected audio input %q, got %q", audioPath, enc.muxJob.AudioPath)
	}
	if len(result.Intermediates) != 2 {
		t.Errorf("expected both intermediates kept, got %v", result.Intermediates)
	}

	f, err := fs.Open(audioPath)
	if err != nil {
		t.Fatalf("audio intermediate missing: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("audio intermediate is not a valid WAV file")
	}
	if dec.SampleRate != 48000 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Errorf("unexpected WAV format: %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
}

func TestMux_FailureKeepsIntermediates(t *testing.T) {
	m, enc, fs := newTestMuxer()
	enc.muxErr = errors.New("container write failed")
	enc.writeOutputOnError = true

	s := makeSession(10, 30)
	addAudio(s, 8000, 1, 0, 2, 800, 0.1)

	_, err := m.Mux(context.Background(), s, "/out/clip.mp4", Options{Codec: "h264"})
	if !errors.Is(err, capture.ErrMuxFailure) {
		t.Fatalf("expected ErrMuxFailure, got: %v", err)
	}
	var muxErr *MuxError
	if !errors.As(err, &muxErr) {
		t.Fatalf("expected *MuxError, got %T", err)
	}
	if muxErr.Stage != "mux" {
		t.Errorf("expected stage 'mux', got %q", muxErr.Stage)
	}
	if !strings.Contains(err.Error(), "container write failed") {
		t.Errorf("error should carry the cause, got: %v", err)
	}

	for _, path := range muxErr.Intermediates {
		if ok, _ := afero.Exists(fs, path); !ok {
			t.Errorf("intermediate %s should be kept on failure", path)
		}
	}
	if len(muxErr.Intermediates) != 2 {
		t.Errorf("expected 2 intermediates, got %v", muxErr.Intermediates)
	}
	if ok, _ := afero.Exists(fs, "/out/clip.mp4"); ok {
		t.Error("partial output must be removed on failure")
	}
	if ok, _ := afero.Exists(fs, stagingPath("/out/clip.mp4", s.ID)); ok {
		t.Error("staged container must be removed on failure")
	}
}

func TestMux_FailureKeepsExistingOutput(t *testing.T) {
	tests := []struct {
		name  string
		setup func(enc *fakeEncoder)
		stage string
	}{
		{"encode video", func(enc *fakeEncoder) { enc.videoErr = errors.New("libx264 missing") }, "encode video"},
		{"mux", func(enc *fakeEncoder) {
			enc.muxErr = errors.New("container write failed")
			enc.writeOutputOnError = true
		}, "mux"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, enc, fs := newTestMuxer()
			tt.setup(enc)
			if err := afero.WriteFile(fs, "/out/clip.mp4", []byte("previous recording"), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := m.Mux(context.Background(), makeSession(5, 30), "/out/clip.mp4", Options{Codec: "h264"})
			var muxErr *MuxError
			if !errors.As(err, &muxErr) || muxErr.Stage != tt.stage {
				t.Fatalf("expected failure at %q, got: %v", tt.stage, err)
			}

			data, err := afero.ReadFile(fs, "/out/clip.mp4")
			if err != nil {
				t.Fatalf("existing output was removed: %v", err)
			}
			if string(data) != "previous recording" {
				t.Errorf("existing output was overwritten with %q", data)
			}
		})
	}
}

func TestMux_AudioBeforeFirstFrameIsVideoOnly(t *testing.T) {
	m, enc, fs := newTestMuxer()
	s := makeSession(30, 30)
	// Half a second of audio that ended before the first frame.
	addAudio(s, 8000, 1, -time.Second, 5, 800, 0.1)

	result, err := m.Mux(context.Background(), s, "/out/clip.mp4", Options{Codec: "h264"})
	if err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
	if result.HasAudio || result.AudioDuration != 0 {
		t.Errorf("expected video-only result, got audio=%v duration=%s", result.HasAudio, result.AudioDuration)
	}
	if enc.muxJob.AudioPath != "" {
		t.Errorf("expected no audio input, got %q", enc.muxJob.AudioPath)
	}
	_, audioPath := IntermediatePaths("/out", s.ID)
	if ok, _ := afero.Exists(fs, audioPath); ok {
		t.Error("no audio intermediate should be written for an empty aligned stream")
	}
	if len(result.Diagnostics) != 1 || !errors.Is(result.Diagnostics[0], capture.ErrAudioUnavailable) {
		t.Errorf("expected one AudioUnavailable diagnostic, got %v", result.Diagnostics)
	}
}

func TestMux_VideoEncodeFailure(t *testing.T) {
	m, enc, _ := newTestMuxer()
	enc.videoErr = errors.New("encoder crashed")

	_, err := m.Mux(context.Background(), makeSession(5, 30), "/out/clip.mp4", Options{Codec: "h264"})
	if !errors.Is(err, capture.ErrMuxFailure) {
		t.Fatalf("expected ErrMuxFailure, got: %v", err)
	}
	if enc.muxJob != nil {
		t.Error("mux must not run after a failed video encode")
	}
}

func TestMux_UnsupportedCodec(t *testing.T) {
	m, enc, _ := newTestMuxer()

	_, err := m.Mux(context.Background(), makeSession(5, 30), "/out/clip.mp4", Options{Codec: "vp9"})
	if !errors.Is(err, capture.ErrMuxFailure) {
		t.Fatalf("expected ErrMuxFailure, got: %v", err)
	}
	if enc.videoJob != nil {
		t.Error("encoder must not run with an unsupported codec")
	}
}

func TestAlignAudio(t *testing.T) {
	tests := []struct {
		name        string
		audioStart  time.Duration
		wantLen     int
		wantLeading float32
	}{
		{"aligned", 0, 1000, 0.5},
		{"audio started early", -50 * time.Millisecond, 950, 0.5},
		{"audio started late", 20 * time.Millisecond, 1020, 0},
		{"audio ended before video", -2 * time.Second, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := makeSession(3, 30)
			addAudio(s, 1000, 1, tt.audioStart, 10, 100, 0.5)

			got := alignAudio(s)
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d samples, got %d", tt.wantLen, len(got))
			}
			if len(got) > 0 && got[0] != tt.wantLeading {
				t.Errorf("expected first sample %v, got %v", tt.wantLeading, got[0])
			}
			if len(got) > 0 && got[len(got)-1] != 0.5 {
				t.Errorf("expected captured audio at the end, got %v", got[len(got)-1])
			}
		})
	}
}

func TestFloatToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2, 32767},
		{-3, -32767},
		{0.5, 16384},
	}
	for _, tt := range tests {
		if got := floatToInt16(tt.in); got != tt.want {
			t.Errorf("floatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCheckSync(t *testing.T) {
	interval := time.Second / 30

	inSync := &ProbeResult{Streams: []StreamInfo{
		{CodecType: "video", StartTime: 0},
		{CodecType: "audio", StartTime: 0.021},
	}}
	if !checkSync(inSync, interval) {
		t.Error("expected streams within one frame interval to be in sync")
	}

	skewed := &ProbeResult{Streams: []StreamInfo{
		{CodecType: "video", StartTime: 0},
		{CodecType: "audio", StartTime: 0.2},
	}}
	if checkSync(skewed, interval) {
		t.Error("expected 200ms skew to be reported")
	}

	videoOnly := &ProbeResult{Streams: []StreamInfo{{CodecType: "video"}}}
	if !checkSync(videoOnly, interval) {
		t.Error("video-only output has nothing to compare")
	}
}

func TestParseProbe(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "start_time": "0.000000", "duration": "3.000000"},
			{"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2, "start_time": "0.021333", "duration": "N/A"}
		],
		"format": {"duration": "3.021333"}
	}`)

	result, err := parseProbe(output)
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}
	if len(result.Streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(result.Streams))
	}
	video := result.Stream("video")
	if video == nil || video.Width != 1920 || video.Duration != 3 {
		t.Errorf("unexpected video stream %+v", video)
	}
	audio := result.Stream("audio")
	if audio == nil || audio.SampleRate != 48000 || audio.Channels != 2 || audio.Duration != 0 {
		t.Errorf("unexpected audio stream %+v", audio)
	}
	if result.Stream("subtitle") != nil {
		t.Error("expected nil for missing stream type")
	}
}

func TestMuxArgs(t *testing.T) {
	videoOnly := strings.Join(muxArgs(MuxJob{VideoPath: "v.mkv", OutputPath: "out.mp4"}), " ")
	if !strings.Contains(videoOnly, "-an") || strings.Contains(videoOnly, "1:a:0") {
		t.Errorf("video-only mux should drop audio: %s", videoOnly)
	}
	if !strings.Contains(videoOnly, "-movflags +faststart") {
		t.Errorf("mp4 output should use faststart: %s", videoOnly)
	}

	withAudio := strings.Join(muxArgs(MuxJob{
		VideoPath: "v.mkv", AudioPath: "a.wav", OutputPath: "out.mkv", AudioBitrate: "192k",
	}), " ")
	for _, want := range []string{"-i a.wav", "-map 1:a:0", "-c:v copy", "-c:a aac", "-b:a 192k"} {
		if !strings.Contains(withAudio, want) {
			t.Errorf("mux args %q missing %q", withAudio, want)
		}
	}
	if strings.Contains(withAudio, "faststart") {
		t.Error("mkv output should not use faststart")
	}
}

func TestVideoArgs(t *testing.T) {
	args := strings.Join(videoArgs(VideoJob{
		Path: "v.mkv", Width: 1279, Height: 719, FPS: 30, Encoder: "libx265", Bitrate: "2M",
	}), " ")
	for _, want := range []string{
		"-f rawvideo -pix_fmt bgr24 -video_size 1279x719 -framerate 30 -i pipe:0",
		"-c:v libx265", "-b:v 2M", "-tag:v hvc1", "-pix_fmt yuv420p",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("video args %q missing %q", args, want)
		}
	}
}
