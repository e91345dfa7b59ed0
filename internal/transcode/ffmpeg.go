// Package transcode normalizes uploaded audio for the diarization path.
//
// Diarization and embedding models expect 16 kHz mono PCM; client uploads
// arrive in whatever container the recording device produced. FFmpeg does the
// conversion as a subprocess — there is no cgo dependency and the binary is
// ubiquitous on the deployment images.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// ErrCorruptInput is returned (wrapped) when ffmpeg cannot decode the input
// file. It marks the upload itself as unusable, as opposed to an
// infrastructure failure.
var ErrCorruptInput = errors.New("transcode: input audio could not be decoded")

const (
	defaultBinary     = "ffmpeg"
	defaultSampleRate = 16000
	defaultChannels   = 1

	// stderrTailLimit bounds how much ffmpeg stderr is carried into error
	// messages and logs.
	stderrTailLimit = 512
)

// Option is a functional option for configuring an FFmpeg transcoder.
type Option func(*FFmpeg)

// WithBinary overrides the ffmpeg executable path. Useful in tests and for
// non-PATH installs.
func WithBinary(path string) Option {
	return func(f *FFmpeg) {
		f.binary = path
	}
}

// WithSampleRate overrides the target sample rate. Defaults to 16000 Hz.
func WithSampleRate(rate int) Option {
	return func(f *FFmpeg) {
		f.sampleRate = rate
	}
}

// WithChannels overrides the target channel count. Defaults to 1 (mono).
func WithChannels(n int) Option {
	return func(f *FFmpeg) {
		f.channels = n
	}
}

// FFmpeg converts audio files to normalized WAV via the ffmpeg binary.
// The zero value is not usable; construct with [New]. Safe for concurrent
// use — each conversion is an independent subprocess.
type FFmpeg struct {
	binary     string
	sampleRate int
	channels   int
}

// New creates an FFmpeg transcoder with the given options.
func New(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		binary:     defaultBinary,
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ToWAV converts inputPath to a WAV file at outputPath with the configured
// sample rate and channel count, overwriting any existing file. A decode
// failure returns an error wrapping [ErrCorruptInput]; a missing ffmpeg
// binary returns the exec lookup error unwrapped from that sentinel so the
// caller can tell operator misconfiguration from bad uploads.
func (f *FFmpeg) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, f.binary,
		"-i", inputPath,
		"-ar", strconv.Itoa(f.sampleRate),
		"-ac", strconv.Itoa(f.channels),
		"-y",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// PATH lookup misses surface as exec.ErrNotFound, explicit binary
		// paths as fs.ErrNotExist from fork/exec.
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("transcode: ffmpeg binary %q not found: %w", f.binary, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("transcode: conversion aborted: %w", ctx.Err())
		}
		tail := stderrTail(stderr.String())
		slog.Error("ffmpeg conversion failed", "input", inputPath, "stderr", tail)
		return fmt.Errorf("transcode: ffmpeg: %s: %w", tail, ErrCorruptInput)
	}

	slog.Debug("audio converted", "input", inputPath, "output", outputPath,
		"sample_rate", f.sampleRate, "channels", f.channels)
	return nil
}

// SiblingWAVPath returns the conversion target path for an upload: the same
// directory and base name with a "_diarization.wav" suffix.
func SiblingWAVPath(inputPath string) string {
	base := inputPath
	if idx := strings.LastIndex(base, "."); idx > strings.LastIndex(base, "/") {
		base = base[:idx]
	}
	return base + "_diarization.wav"
}

// stderrTail returns the last stderrTailLimit bytes of s with surrounding
// whitespace removed. FFmpeg prints its banner first; the failure reason is
// at the end.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailLimit {
		s = s[len(s)-stderrTailLimit:]
	}
	return s
}
