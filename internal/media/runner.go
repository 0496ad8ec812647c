// Package media wraps the external download and transcode tools behind a process-execution port
// and manages per-document artifact directories.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Runner executes an external program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// maxCapture bounds how much subprocess output is retained.
const maxCapture = 4 << 20

var commandContext = exec.CommandContext

// ExecRunner runs programs with os/exec, capturing bounded stdout and stderr.
type ExecRunner struct{}

// Run implements Runner. A non-zero exit returns an error carrying the tail of stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	stdout := &cappedBuffer{limit: maxCapture}
	stderr := &cappedBuffer{limit: 64 << 10}
	cmd := commandContext(ctx, name, args...) //nolint:gosec
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

var lookPath = exec.LookPath

// RequireTools verifies each binary is on PATH.
func RequireTools(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := lookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s not found on PATH: %w", strings.Join(missing, ", "), ingest.ErrMissingTool)
	}
	return nil
}
