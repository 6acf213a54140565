package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FFmpeg invokes the ffmpeg binary to concatenate audio files. Inputs share
// encoding parameters (all fragments are authored and synthesized with the
// same codec settings), so concatenation runs in stream-copy mode and never
// re-encodes.
type FFmpeg struct {
	binary  string
	tempDir string
}

// NewFFmpeg creates the wrapper. binary defaults to "ffmpeg" on PATH;
// tempDir holds the concat list files and must exist.
func NewFFmpeg(binary, tempDir string) (*FFmpeg, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	return &FFmpeg{binary: binary, tempDir: tempDir}, nil
}

// Available reports whether the ffmpeg binary can be executed.
func (f *FFmpeg) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, f.binary, "-version").Run() == nil
}

// Concat concatenates the input files, in order, into outPath using the
// concat demuxer with stream copy. The concat list file is removed on every
// exit path. A non-zero exit returns a ConcatenationError carrying stderr.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files to concatenate")
	}

	listPath := filepath.Join(f.tempDir, "concat_"+uuid.NewString()[:8]+".txt")

	var list strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("resolving input path %s: %w", in, err)
		}
		// ffmpeg concat list quoting: single quotes, embedded quotes escaped.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&list, "file '%s'\n", escaped)
	}

	if err := os.WriteFile(listPath, []byte(list.String()), 0640); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, f.binary,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return &ConcatenationError{ExitErr: err, Stderr: lastLine(stderr.String())}
	}
	return nil
}

// lastLine trims ffmpeg's chatty stderr down to its final line, which
// carries the actual failure reason.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
