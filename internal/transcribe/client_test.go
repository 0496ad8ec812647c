package transcribe

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

func TestTranscribeUploadsMultipart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "segment", r.FormValue("timestamp_granularities[]"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "audio.mp3", header.Filename)

		_, _ = w.Write([]byte(`{"text":"","language":"english","segments":[
			{"start":0,"end":4.5,"text":" Three rounds of sprawls. ","avg_logprob":-0.1},
			{"start":4.5,"end":3,"text":"Rest thirty seconds.","avg_logprob":0.5},
			{"start":9,"end":10,"text":"   "}
		]}`))
	}))
	t.Cleanup(server.Close)

	audio := filepath.Join(t.TempDir(), "audio.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("ID3"), 0o600))

	hc := httpx.New(httpx.Config{Policy: httpx.Policy{MaxAttempts: 1}, Timeout: 5 * time.Second}, nil, nil)
	got, err := NewClient(hc, Config{APIKey: "key", BaseURL: server.URL + "/v1/"}).Transcribe(context.Background(), audio)
	require.NoError(t, err)

	assert.Equal(t, "english", got.Language)
	assert.Equal(t, "Three rounds of sprawls. Rest thirty seconds.", got.Text)
	require.Len(t, got.Segments, 2)
	assert.InDelta(t, math.Exp(-0.1), got.Segments[0].Confidence, 1e-9)
	assert.Equal(t, ingest.MaxConfidence, got.Segments[1].Confidence)
	assert.InDelta(t, 4.5, got.Segments[1].EndSeconds, 1e-9)
}

func TestTranscribeErrors(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, Config{}).Transcribe(context.Background(), "missing.mp3")
	require.ErrorIs(t, err, ingest.ErrMissingCredential)

	_, err = NewClient(nil, Config{APIKey: "k"}).Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	require.Error(t, err)
}

func TestSegmentConfidence(t *testing.T) {
	t.Parallel()

	assert.Zero(t, SegmentConfidence(nil))
	for _, lp := range []float64{-50, -1, -0.01, 0, 3} {
		v := lp
		got := SegmentConfidence(&v)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, ingest.MaxConfidence)
	}
	low, high := -2.0, -0.5
	assert.Less(t, SegmentConfidence(&low), SegmentConfidence(&high))
}
