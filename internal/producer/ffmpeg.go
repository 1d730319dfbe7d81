package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/mediaforge/internal/artifact"
	"github.com/kiranshivaraju/mediaforge/internal/config"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
)

const (
	classLoadAudio = "LoadAudio"
	classLoadVideo = "LoadVideo"

	blankVideo   = "color=c=black:s=832x480:d=5"
	silentAudio  = "anullsrc=r=16000:cl=mono"
	silentLength = "5"
)

// commandRunner executes an external command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg composites the workflow's audio onto its template video.
type FFmpeg struct {
	path     string
	template string
	audio    string
	inputDir string
	run      commandRunner
}

// NewFFmpeg creates the ffmpeg producer. Template and audio from cfg are used
// when the workflow does not name its own. Workflows may only name files
// directly inside cfg.InputDir; with no InputDir they cannot name any.
func NewFFmpeg(cfg config.ProducerConfig) *FFmpeg {
	return &FFmpeg{
		path:     cfg.FFmpegPath,
		template: cfg.Template,
		audio:    cfg.Audio,
		inputDir: cfg.InputDir,
		run:      defaultCommandRunner,
	}
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

func (f *FFmpeg) Produce(ctx context.Context, job jobs.Job) (*Result, error) {
	wf, err := ParseWorkflow(job.Input)
	if err != nil {
		return nil, err
	}

	audio, err := f.input(wf.Input(classLoadAudio, "audio"), f.audio)
	if err != nil {
		return nil, err
	}
	template, err := f.input(wf.Input(classLoadVideo, "video"), f.template)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "mediaforge-"+job.ID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out.mp4")
	args := buildArgs(template, audio, out)

	slog.Debug("running ffmpeg", "prompt_id", job.ID, "template", template, "audio", audio)
	if output, err := f.run(ctx, f.path, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrProducerFailed, err, lastLine(output))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg produced no output: %v", ErrProducerFailed, err)
	}

	return &Result{
		Data:        data,
		ContentType: "video/mp4",
		Ext:         ".mp4",
		Node:        OutputNode,
	}, nil
}

// buildArgs loops the template under the audio track. Missing inputs are
// replaced with a black frame or silence.
func buildArgs(template, audio, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if template != "" {
		args = append(args, "-stream_loop", "-1", "-i", template)
	} else {
		args = append(args, "-f", "lavfi", "-i", blankVideo)
	}
	if audio != "" {
		args = append(args, "-i", audio)
	} else {
		args = append(args, "-f", "lavfi", "-t", silentLength, "-i", silentAudio)
	}
	return append(args,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libx264", "-c:a", "aac",
		"-shortest", out,
	)
}

// input resolves a workflow-named file inside the input directory, or falls
// back to the configured default.
func (f *FFmpeg) input(name, fallback string) (string, error) {
	if name == "" {
		return fallback, checkInput(fallback)
	}
	path, err := f.resolveInput(name)
	if err != nil {
		return "", err
	}
	return path, checkInput(path)
}

func (f *FFmpeg) resolveInput(name string) (string, error) {
	if f.inputDir == "" {
		return "", fmt.Errorf("%w: input %q: workflow inputs are disabled", ErrInvalidWorkflow, name)
	}
	if err := artifact.ValidateName(name); err != nil {
		return "", fmt.Errorf("%w: input %q: %v", ErrInvalidWorkflow, name, err)
	}
	root, err := filepath.Abs(f.inputDir)
	if err != nil {
		return "", fmt.Errorf("%w: input dir: %v", ErrInvalidWorkflow, err)
	}
	path := filepath.Join(root, name)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: input %q escapes the input dir", ErrInvalidWorkflow, name)
	}
	// symlinks could point anywhere
	st, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("%w: input %q: %v", ErrInvalidWorkflow, name, err)
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("%w: input %q is not a regular file", ErrInvalidWorkflow, name)
	}
	return path, nil
}

// checkInput requires a named input to be an existing regular file so that
// ffmpeg never interprets it as a protocol URL or option.
func checkInput(path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "-") || strings.Contains(path, "://") {
		return fmt.Errorf("%w: input %q is not a local file", ErrInvalidWorkflow, path)
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: input %q: %v", ErrInvalidWorkflow, path, err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%w: input %q is not a regular file", ErrInvalidWorkflow, path)
	}
	return nil
}

func lastLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- inputs are checked by checkInput
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, fmt.Errorf("exit code %d", exitErr.ExitCode())
		}
		return output, err
	}
	return output, nil
}
