package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/loader"
	"github.com/born-ml/styletransfer/internal/tensor"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), version)
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"train"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestRun_Layers(t *testing.T) {
	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"layers"}, &out, io.Discard))
	assert.Contains(t, out.String(), "input\nblock1_conv1\n")
	assert.Contains(t, out.String(), "block5_conv3")
}

func TestRunFlags_Defaults(t *testing.T) {
	cfg, err := newRunFlags(io.Discard).config(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestRunFlags_OverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("height: 64\nwidth: 64\ncontent_path: a.png\nstyle_paths: [b.png]\n"), 0o600))

	cfg, err := newRunFlags(io.Discard).config([]string{
		"-config", path,
		"-width", "32",
		"-style", "c.png", "-style", "d.png,e.png",
		"-style-weights", "1,2,3",
		"-style-layers", "block1_conv1,block2_conv1",
		"-preserve-color",
	})
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Height, "file value kept")
	assert.Equal(t, 32, cfg.Width, "flag wins")
	assert.Equal(t, "a.png", cfg.ContentPath)
	assert.Equal(t, []string{"c.png", "d.png", "e.png"}, cfg.StylePaths)
	assert.Equal(t, []float64{1, 2, 3}, cfg.StyleWeights)
	assert.Equal(t, []string{"block1_conv1", "block2_conv1"}, cfg.StyleLayers)
	assert.True(t, cfg.PreserveColor)
	assert.NoError(t, cfg.Validate())
}

func TestRunFlags_Errors(t *testing.T) {
	_, err := newRunFlags(io.Discard).config([]string{"-style-weights", "x"})
	assert.Error(t, err)

	_, err = newRunFlags(io.Discard).config([]string{"extra"})
	assert.Error(t, err)

	f := newRunFlags(io.Discard)
	_, err = f.config([]string{"-log-format", "xml"})
	require.NoError(t, err)
	_, err = f.logger(io.Discard)
	assert.Error(t, err)
}

func TestRun_InvalidJob(t *testing.T) {
	var errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"run", "-content", "missing.png"}, io.Discard, &errOut))
	assert.Contains(t, errOut.String(), "invalid config")
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.safetensors")
	w, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{0}, tensor.Shape{1})
	require.NoError(t, err)
	require.NoError(t, loader.WriteSafeTensors(path, map[string]*tensor.RawTensor{
		"block1_conv1.weight": w,
		"block1_conv1.bias":   b,
	}, map[string]string{"architecture": "vgg16"}))

	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"inspect", path}, &out, io.Discard))
	assert.Contains(t, out.String(), "2 tensors, canonical layout")
	assert.Contains(t, out.String(), "architecture = vgg16")
	assert.Contains(t, out.String(), "block1_conv1.weight")

	assert.Equal(t, 1, run([]string{"inspect"}, io.Discard, io.Discard))
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.Equal(t, 0, run([]string{"init-config", path}, io.Discard, io.Discard))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
