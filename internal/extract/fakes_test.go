package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/combat-training-ingest/internal/llm"
	"github.com/JakeFAU/combat-training-ingest/internal/media"
	"github.com/JakeFAU/combat-training-ingest/internal/transcribe"
)

type fakeTools struct {
	preflightErr error
	meta         media.Metadata
	downloadErr  error
	downloads    int
	frameDirs    []string
}

func (f *fakeTools) Preflight() error { return f.preflightErr }

func (f *fakeTools) Probe(context.Context, string) (media.Metadata, error) { return f.meta, nil }

func (f *fakeTools) Download(_ context.Context, _ string, dir string) (media.Artifacts, error) {
	f.downloads++
	if f.downloadErr != nil {
		return media.Artifacts{}, f.downloadErr
	}
	video := filepath.Join(dir, "video.mp4")
	audio := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(video, []byte("v"), 0o600); err != nil {
		return media.Artifacts{}, err
	}
	if err := os.WriteFile(audio, []byte("a"), 0o600); err != nil {
		return media.Artifacts{}, err
	}
	return media.Artifacts{Video: video, Audio: audio}, nil
}

func (f *fakeTools) SampleFrames(_ context.Context, _ string, dir string) ([]media.Frame, error) {
	f.frameDirs = append(f.frameDirs, dir)
	frames := make([]media.Frame, 0, 2)
	for i := range 2 {
		p := filepath.Join(dir, fmt.Sprintf("frame-%03d.jpg", i+1))
		if err := os.WriteFile(p, []byte{0xff, 0xd8, byte(i)}, 0o600); err != nil {
			return nil, err
		}
		frames = append(frames, media.Frame{Index: i, Path: p, TimestampSeconds: float64(i * 20)})
	}
	return frames, nil
}

type fakeTranscriber struct {
	err        error
	transcript transcribe.Transcript
}

func (f *fakeTranscriber) Preflight() error { return nil }

func (f *fakeTranscriber) Transcribe(context.Context, string) (transcribe.Transcript, error) {
	return f.transcript, f.err
}

type fakeAnalyzer struct {
	preflightErr error
	textErr      error
	text         llm.Analysis
	videoErr     error
	video        llm.Analysis
	videoInputs  []llm.VideoInput
	textInputs   []llm.TextInput
}

func (f *fakeAnalyzer) Preflight() error { return f.preflightErr }

func (f *fakeAnalyzer) ExtractText(_ context.Context, _ string, in llm.TextInput) (llm.Analysis, error) {
	f.textInputs = append(f.textInputs, in)
	return f.text, f.textErr
}

func (f *fakeAnalyzer) AnalyzeVideo(_ context.Context, _ string, in llm.VideoInput) (llm.Analysis, error) {
	f.videoInputs = append(f.videoInputs, in)
	return f.video, f.videoErr
}

type failingDictionary struct{}

func (failingDictionary) ListAthleteNames(context.Context, int) ([]string, error) {
	return nil, errors.New("store down")
}

func (failingDictionary) ListExerciseNames(context.Context, int) ([]string, error) {
	return nil, errors.New("store down")
}

func intPtr(n int) *int { return &n }
