// Package extract turns collected documents into extracted signals: the video sub-pipeline for
// watch links, model-backed text extraction for everything else, and a heuristic fallback that
// never fails.
package extract

import (
	"context"
	"io"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/llm"
	"github.com/JakeFAU/combat-training-ingest/internal/media"
	"github.com/JakeFAU/combat-training-ingest/internal/transcribe"
)

// MediaTools downloads and samples videos.
type MediaTools interface {
	Preflight() error
	Probe(ctx context.Context, url string) (media.Metadata, error)
	Download(ctx context.Context, url, dir string) (media.Artifacts, error)
	SampleFrames(ctx context.Context, video, dir string) ([]media.Frame, error)
}

// Transcriber turns an audio file into timed segments.
type Transcriber interface {
	Preflight() error
	Transcribe(ctx context.Context, audioPath string) (transcribe.Transcript, error)
}

// Analyzer runs the model extraction schemas.
type Analyzer interface {
	Preflight() error
	ExtractText(ctx context.Context, model string, in llm.TextInput) (llm.Analysis, error)
	AnalyzeVideo(ctx context.Context, model string, in llm.VideoInput) (llm.Analysis, error)
}

// PageFetcher re-fetches document pages.
type PageFetcher interface {
	GetText(ctx context.Context, req httpx.Request) (string, error)
}

// Archiver keeps extraction artifacts after the working directory is purged.
type Archiver interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Dictionary supplies known canonical names for the heuristic matcher.
type Dictionary interface {
	ListAthleteNames(ctx context.Context, limit int) ([]string, error)
	ListExerciseNames(ctx context.Context, limit int) ([]string, error)
}

// Repository is the store surface the Extract stage needs.
type Repository interface {
	ingest.SourceRepository
	ingest.DocumentRepository
	ingest.VideoRepository
	ingest.SignalRepository
	Dictionary
}

// Outcome is the decision for one document.
type Outcome struct {
	State  ingest.ProcessingState
	Reason string
	Signal *ingest.ExtractedSignal
	// Heuristic marks signals produced by the fallback path.
	Heuristic bool
}

func extracted(signal ingest.ExtractedSignal, heuristic bool) Outcome {
	return Outcome{State: ingest.StateExtracted, Signal: &signal, Heuristic: heuristic}
}

func discarded(reason string) Outcome {
	return Outcome{State: ingest.StateDiscarded, Reason: reason}
}
