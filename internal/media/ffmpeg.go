// Package media probes and trims audio through the ffmpeg command line tools.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrProbeFailed indicates ffprobe could not read the input.
	ErrProbeFailed = errors.New("media: probe failed")
	// ErrTranscodeFailed indicates ffmpeg could not produce the output.
	ErrTranscodeFailed = errors.New("media: transcode failed")
)

// ProbeResult describes an audio file.
type ProbeResult struct {
	Duration time.Duration
	// Format is the primary container name reported by ffprobe, e.g. "mp3" or "ogg".
	Format string
}

// Milliseconds returns the duration in milliseconds.
func (r ProbeResult) Milliseconds() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

type Transcoder interface {
	// Trim cuts length of audio starting at start and returns the path of a new
	// file that the caller owns. The output keeps the input's extension.
	Trim(ctx context.Context, input string, start, length time.Duration) (string, error)
}

// CommandRunner executes an external program and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpegConfig locates the binaries and the scratch directory for outputs.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	ScratchDir  string
	Run         CommandRunner
}

// FFmpeg implements Prober and Transcoder.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	scratchDir  string
	run         CommandRunner
}

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	run := cfg.Run
	if run == nil {
		run = runCommand
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		scratchDir:  cfg.ScratchDir,
		run:         run,
	}
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeResult, error) {
	output, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration,format_name",
		"-of", "json",
		path,
	)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: decode output: %v", ErrProbeFailed, err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil || seconds < 0 {
		return ProbeResult{}, fmt.Errorf("%w: invalid duration %q", ErrProbeFailed, parsed.Format.Duration)
	}
	format, _, _ := strings.Cut(parsed.Format.FormatName, ",")
	return ProbeResult{
		Duration: time.Duration(seconds * float64(time.Second)),
		Format:   strings.TrimSpace(format),
	}, nil
}

func (f *FFmpeg) Trim(ctx context.Context, input string, start, length time.Duration) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: non-positive length", ErrTranscodeFailed)
	}
	if start < 0 {
		start = 0
	}

	scratch, err := os.CreateTemp(f.scratchDir, "preview-*"+filepath.Ext(input))
	if err != nil {
		return "", err
	}
	outputPath := scratch.Name()
	scratch.Close()

	_, err = f.run(ctx, f.ffmpegPath,
		"-y",
		"-v", "error",
		"-ss", formatSeconds(start),
		"-i", input,
		"-t", formatSeconds(length),
		"-vn",
		outputPath,
	)
	if err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	return outputPath, nil
}

func formatSeconds(value time.Duration) string {
	return strconv.FormatFloat(value.Seconds(), 'f', 3, 64)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	output, err := command.Output()
	if err != nil {
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, message)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}
