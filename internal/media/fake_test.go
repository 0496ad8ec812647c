package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fakeRunner records invocations and materializes the files real tools would write.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	probe   string
	frames  []int
	failOn  string
	failErr error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.failOn != "" && name == f.failOn {
		return nil, f.failErr
	}
	switch {
	case name == DefaultYTDLP && contains(args, "--dump-single-json"):
		return []byte(f.probe), nil
	case name == DefaultYTDLP:
		out := argAfter(args, "-o")
		return nil, os.WriteFile(strings.ReplaceAll(out, "%(ext)s", "mp4"), []byte("video"), 0o600)
	case name == DefaultFFmpeg && contains(args, "-vf"):
		pattern := args[len(args)-1]
		for i, size := range f.frames {
			path := filepath.Join(filepath.Dir(pattern), frameName(i+1))
			if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case name == DefaultFFmpeg:
		return nil, os.WriteFile(args[len(args)-1], []byte("audio"), 0o600)
	}
	return nil, nil
}

func frameName(n int) string {
	return fmt.Sprintf("frame-%03d.jpg", n)
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
