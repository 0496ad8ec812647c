package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Default binaries.
const (
	DefaultYTDLP  = "yt-dlp"
	DefaultFFmpeg = "ffmpeg"
)

// Metadata is the provider information fetched before any download.
type Metadata struct {
	ID              string
	Title           string
	Channel         string
	DurationSeconds int
}

// Artifacts are the files produced for one video.
type Artifacts struct {
	Video string
	Audio string
}

// Frame is one sampled still. Index is its zero-based position in sampling order.
type Frame struct {
	Index            int
	Path             string
	TimestampSeconds float64
}

// Tools drives yt-dlp and ffmpeg through a Runner.
type Tools struct {
	runner        Runner
	ytdlp         string
	ffmpeg        string
	maxHeight     int
	frameInterval int
	maxFrames     int
}

// Options configures Tools.
type Options struct {
	YTDLP                string
	FFmpeg               string
	MaxHeight            int
	FrameIntervalSeconds int
	MaxFrames            int
}

// NewTools builds Tools. A nil runner uses ExecRunner.
func NewTools(runner Runner, opts Options) *Tools {
	if runner == nil {
		runner = ExecRunner{}
	}
	t := &Tools{
		runner:        runner,
		ytdlp:         strings.TrimSpace(opts.YTDLP),
		ffmpeg:        strings.TrimSpace(opts.FFmpeg),
		maxHeight:     opts.MaxHeight,
		frameInterval: opts.FrameIntervalSeconds,
		maxFrames:     opts.MaxFrames,
	}
	if t.ytdlp == "" {
		t.ytdlp = DefaultYTDLP
	}
	if t.ffmpeg == "" {
		t.ffmpeg = DefaultFFmpeg
	}
	if t.maxHeight <= 0 {
		t.maxHeight = 720
	}
	if t.frameInterval <= 0 {
		t.frameInterval = 20
	}
	if t.maxFrames <= 0 {
		t.maxFrames = 12
	}
	return t
}

// Preflight verifies both binaries are installed.
func (t *Tools) Preflight() error {
	return RequireTools(t.ytdlp, t.ffmpeg)
}

// FrameInterval is the sampling interval in seconds.
func (t *Tools) FrameInterval() int { return t.frameInterval }

type probeOutput struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Channel  string   `json:"channel"`
	Uploader string   `json:"uploader"`
	Duration *float64 `json:"duration"`
}

// Probe reads video metadata without downloading media.
func (t *Tools) Probe(ctx context.Context, url string) (Metadata, error) {
	out, err := t.runner.Run(ctx, t.ytdlp, "--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return Metadata{}, fmt.Errorf("probe video: %w", err)
	}
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("decode probe output: %w", err)
	}
	meta := Metadata{ID: parsed.ID, Title: parsed.Title, Channel: parsed.Channel}
	if meta.Channel == "" {
		meta.Channel = parsed.Uploader
	}
	if parsed.Duration != nil && *parsed.Duration > 0 {
		meta.DurationSeconds = int(math.Ceil(*parsed.Duration))
	}
	return meta, nil
}

// Download fetches the video at bounded resolution into dir and extracts a mono 16 kHz audio track.
func (t *Tools) Download(ctx context.Context, url, dir string) (Artifacts, error) {
	h := strconv.Itoa(t.maxHeight)
	format := "bv*[height<=" + h + "]+ba/b[height<=" + h + "]/b"
	if _, err := t.runner.Run(ctx, t.ytdlp,
		"--no-playlist", "--no-warnings", "--no-progress",
		"-f", format,
		"-o", filepath.Join(dir, "video.%(ext)s"),
		url,
	); err != nil {
		return Artifacts{}, fmt.Errorf("download video: %w", err)
	}
	video, err := findVideo(dir)
	if err != nil {
		return Artifacts{}, err
	}
	audio := filepath.Join(dir, "audio.mp3")
	if _, err := t.runner.Run(ctx, t.ffmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", video,
		"-vn", "-sn", "-dn",
		"-ac", "1", "-ar", "16000",
		"-c:a", "libmp3lame", "-b:a", "64k",
		audio,
	); err != nil {
		return Artifacts{}, fmt.Errorf("extract audio: %w", err)
	}
	return Artifacts{Video: video, Audio: audio}, nil
}

// SampleFrames writes one still per interval, up to the frame cap, into dir/frames. Zero-byte
// frames are discarded.
func (t *Tools) SampleFrames(ctx context.Context, video, dir string) ([]Frame, error) {
	framesDir := filepath.Join(dir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	if _, err := t.runner.Run(ctx, t.ffmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", video,
		"-vf", "fps=1/"+strconv.Itoa(t.frameInterval),
		"-frames:v", strconv.Itoa(t.maxFrames),
		"-q:v", "4",
		filepath.Join(framesDir, "frame-%03d.jpg"),
	); err != nil {
		return nil, fmt.Errorf("sample frames: %w", err)
	}
	return t.collectFrames(framesDir)
}

func (t *Tools) collectFrames(framesDir string) ([]Frame, error) {
	paths, err := filepath.Glob(filepath.Join(framesDir, "frame-*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	sort.Strings(paths)
	frames := make([]Frame, 0, len(paths))
	for i, p := range paths {
		if len(frames) >= t.maxFrames {
			break
		}
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			continue
		}
		frames = append(frames, Frame{
			Index:            len(frames),
			Path:             p,
			TimestampSeconds: float64(i * t.frameInterval),
		})
	}
	return frames, nil
}

func findVideo(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "video.*"))
	if err != nil {
		return "", fmt.Errorf("locate video: %w", err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Size() > 0 {
			return m, nil
		}
	}
	return "", fmt.Errorf("no video file in %s", dir)
}
