package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, os.WriteFile(p, buildArchive(t, files), 0o644))
	return p
}

func TestExtractTarGzSkipsEscapingEntries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	archive := writeArchive(t, map[string]string{
		"./model.onnx":     "m",
		"../evil.txt":      "x",
		"/etc/annotex.txt": "x",
		"sub/tokenizer":    "t",
	})
	require.NoError(t, ExtractTarGz(archive, dest))

	assert.FileExists(t, filepath.Join(dest, "model.onnx"))
	assert.FileExists(t, filepath.Join(dest, "sub", "tokenizer"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.txt"))
}

func TestExtractTarGzRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, os.WriteFile(p, []byte("not gzip"), 0o644))
	assert.Error(t, ExtractTarGz(p, t.TempDir()))
}

func TestValidateModelDirHoistsWrappedFiles(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, ExtractTarGz(writeArchive(t, nerEnFiles), base))

	require.NoError(t, ValidateModelDir(base))
	for _, f := range RequiredFiles {
		assert.FileExists(t, filepath.Join(base, f))
	}
}

func TestValidateModelDirMissingFiles(t *testing.T) {
	err := ValidateModelDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required files")
}

func TestPrepareModelDirUsesEmbeddedLabels(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, ExtractTarGz(writeArchive(t, map[string]string{
		"pkg/model.onnx":     "m",
		"pkg/tokenizer.json": "{}",
	}), base))

	require.NoError(t, prepareModelDir(base, "ner_en", zap.NewNop()))
	got, err := os.ReadFile(filepath.Join(base, "labels.json"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "B-LOC")
}

func TestPrepareModelDirWithoutEmbeddedLabels(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, ExtractTarGz(writeArchive(t, map[string]string{"model.onnx": "m", "tokenizer.json": "{}"}), base))

	err := prepareModelDir(base, "custom", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required files")
}
