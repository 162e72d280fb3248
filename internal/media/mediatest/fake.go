// Package mediatest provides an in-process stand-in for the ffmpeg tools.
package mediatest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KumiProject/chartsets/internal/media"
)

// Fake stands in for ffprobe and ffmpeg. Every probe reports Duration and
// Format; every trim writes a small clip next to the input.
type Fake struct {
	Duration time.Duration
	Format   string
	ProbeErr error
	TrimErr  error

	mu     sync.Mutex
	probed []string
	trims  []TrimCall
}

// TrimCall records one Trim call.
type TrimCall struct {
	Input  string
	Start  time.Duration
	Length time.Duration
}

func (f *Fake) Probe(_ context.Context, path string) (media.ProbeResult, error) {
	f.mu.Lock()
	f.probed = append(f.probed, path)
	f.mu.Unlock()
	if f.ProbeErr != nil {
		return media.ProbeResult{}, f.ProbeErr
	}
	return media.ProbeResult{Duration: f.Duration, Format: f.Format}, nil
}

func (f *Fake) Trim(_ context.Context, input string, start, length time.Duration) (string, error) {
	f.mu.Lock()
	f.trims = append(f.trims, TrimCall{Input: input, Start: start, Length: length})
	f.mu.Unlock()
	if f.TrimErr != nil {
		return "", f.TrimErr
	}
	output, err := os.CreateTemp(filepath.Dir(input), "clip-*"+filepath.Ext(input))
	if err != nil {
		return "", err
	}
	defer output.Close()
	if _, err := output.WriteString("clip:" + start.String()); err != nil {
		return "", err
	}
	return output.Name(), nil
}

// Trims returns the recorded Trim calls.
func (f *Fake) Trims() []TrimCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TrimCall(nil), f.trims...)
}

// Probed returns the paths passed to Probe.
func (f *Fake) Probed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}
