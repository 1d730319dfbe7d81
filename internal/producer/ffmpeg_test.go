package producer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiranshivaraju/mediaforge/internal/config"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	name string
	args []string
}

// fakeRunner writes payload to the output path (the last argument) and
// records the invocation.
func fakeRunner(payload []byte, calls *[]recordedCall) commandRunner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recordedCall{name: name, args: args})
		return nil, os.WriteFile(args[len(args)-1], payload, 0o600)
	}
}

func touch(t *testing.T, name string) string {
	t.Helper()
	return touchIn(t, t.TempDir(), name)
}

func touchIn(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func workflowJob(t *testing.T, wf map[string]any) jobs.Job {
	t.Helper()
	raw, err := json.Marshal(wf)
	require.NoError(t, err)
	return jobs.Job{ID: "job-1", Input: raw}
}

func TestFFmpeg_UsesWorkflowInputs(t *testing.T) {
	inputs := t.TempDir()
	audio := touchIn(t, inputs, "voice.wav")
	video := touchIn(t, inputs, "template.mp4")

	var calls []recordedCall
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "/usr/bin/ffmpeg", InputDir: inputs})
	f.run = fakeRunner([]byte("video"), &calls)

	res, err := f.Produce(context.Background(), workflowJob(t, map[string]any{
		"1": map[string]any{"class_type": "LoadVideo", "inputs": map[string]any{"video": "template.mp4"}},
		"2": map[string]any{"class_type": "LoadAudio", "inputs": map[string]any{"audio": "voice.wav"}},
		"3": map[string]any{"class_type": "Wav2Lip", "inputs": map[string]any{"video_frames": []any{"1", 0}}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), res.Data)
	assert.Equal(t, "video/mp4", res.ContentType)
	assert.Equal(t, ".mp4", res.Ext)
	assert.Equal(t, OutputNode, res.Node)

	require.Len(t, calls, 1)
	assert.Equal(t, "/usr/bin/ffmpeg", calls[0].name)
	joined := strings.Join(calls[0].args, " ")
	assert.Contains(t, joined, "-stream_loop -1 -i "+video)
	assert.Contains(t, joined, "-i "+audio)
	assert.Contains(t, joined, "-shortest")
}

func TestFFmpeg_FallsBackToGeneratedInputs(t *testing.T) {
	var calls []recordedCall
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg"})
	f.run = fakeRunner([]byte("video"), &calls)

	_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{}))
	require.NoError(t, err)

	require.Len(t, calls, 1)
	joined := strings.Join(calls[0].args, " ")
	assert.Contains(t, joined, "-f lavfi -i "+blankVideo)
	assert.Contains(t, joined, "-f lavfi -t 5 -i "+silentAudio)
}

func TestFFmpeg_ConfiguredDefaults(t *testing.T) {
	audio := touch(t, "default.wav")

	var calls []recordedCall
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg", Audio: audio})
	f.run = fakeRunner([]byte("video"), &calls)

	_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, strings.Join(calls[0].args, " "), "-i "+audio)
}

func TestFFmpeg_RejectsUnsafeInputs(t *testing.T) {
	base := t.TempDir()
	inputs := filepath.Join(base, "inputs")
	require.NoError(t, os.MkdirAll(filepath.Join(inputs, "sub"), 0o750))
	touchIn(t, inputs, "voice.wav")
	touchIn(t, filepath.Join(inputs, "sub"), "nested.wav")
	outside := touchIn(t, base, "secret.wav")
	require.NoError(t, os.Symlink(outside, filepath.Join(inputs, "link.wav")))

	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg", InputDir: inputs})
	f.run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("ffmpeg must not run")
		return nil, nil
	}

	for _, in := range []string{
		"-filter_complex",
		"http://example.com/a.wav",
		"/etc/passwd",
		outside,
		"../secret.wav",
		"..",
		"sub/nested.wav",
		"sub",
		"link.wav",
		"missing.wav",
	} {
		for _, node := range []map[string]any{
			{"class_type": "LoadAudio", "inputs": map[string]any{"audio": in}},
			{"class_type": "LoadVideo", "inputs": map[string]any{"video": in}},
		} {
			_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{"1": node}))
			assert.ErrorIs(t, err, ErrInvalidWorkflow, in)
		}
	}
}

func TestFFmpeg_WorkflowInputsDisabledWithoutInputDir(t *testing.T) {
	audio := touch(t, "voice.wav")
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg"})
	f.run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("ffmpeg must not run")
		return nil, nil
	}

	for _, in := range []string{audio, "voice.wav"} {
		_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{
			"2": map[string]any{"class_type": "LoadAudio", "inputs": map[string]any{"audio": in}},
		}))
		assert.ErrorIs(t, err, ErrInvalidWorkflow, in)
	}
}

func TestFFmpeg_ConfiguredDefaultsOutsideInputDir(t *testing.T) {
	template := touch(t, "default.mp4")

	var calls []recordedCall
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg", Template: template, InputDir: t.TempDir()})
	f.run = fakeRunner([]byte("video"), &calls)

	_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, strings.Join(calls[0].args, " "), "-i "+template)
}

func TestFFmpeg_CommandFailure(t *testing.T) {
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg"})
	f.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("frame=0\nUnknown encoder 'libx264'\n"), errors.New("exit code 1")
	}

	_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{}))
	require.ErrorIs(t, err, ErrProducerFailed)
	assert.Contains(t, err.Error(), "Unknown encoder 'libx264'")
	assert.NotContains(t, err.Error(), "frame=0")
}

func TestFFmpeg_NoOutputFile(t *testing.T) {
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg"})
	f.run = func(context.Context, string, ...string) ([]byte, error) { return nil, nil }

	_, err := f.Produce(context.Background(), workflowJob(t, map[string]any{}))
	assert.ErrorIs(t, err, ErrProducerFailed)
}

func TestFFmpeg_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg"})
	f.run = func(context.Context, string, ...string) ([]byte, error) {
		cancel()
		return nil, errors.New("signal: killed")
	}

	_, err := f.Produce(ctx, workflowJob(t, map[string]any{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFFmpeg_InvalidWorkflow(t *testing.T) {
	f := NewFFmpeg(config.ProducerConfig{FFmpegPath: "ffmpeg"})
	_, err := f.Produce(context.Background(), jobs.Job{ID: "x", Input: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}
