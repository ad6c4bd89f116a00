package models

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nerEnFiles = map[string]string{
	"ner_en/model.onnx":     "dummy-onnx",
	"ner_en/labels.json":    `{"0":"O","1":"B-PER"}`,
	"ner_en/tokenizer.json": `{}`,
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var b bytes.Buffer
	gz := gzip.NewWriter(&b)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return b.Bytes()
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastDownloader() *Downloader {
	dl := NewDownloader()
	dl.RetryWait = time.Millisecond
	return dl
}

func TestInstall(t *testing.T) {
	archive := buildArchive(t, nerEnFiles)
	srv := serveBytes(t, archive)
	root := t.TempDir()
	m := ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: checksum(archive)}

	var last Progress
	var calls atomic.Int32
	require.NoError(t, fastDownloader().Install(context.Background(), m, root, func(p Progress) {
		calls.Add(1)
		last = p
	}))
	assert.Positive(t, calls.Load())
	assert.Equal(t, int64(len(archive)), last.Downloaded)
	assert.Equal(t, int64(len(archive)), last.Total)
	assert.True(t, IsInstalled(root, m))

	sum, err := InstalledChecksum(root, "ner_en")
	require.NoError(t, err)
	assert.Equal(t, m.Checksum, sum)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directories must be removed")
}

func TestInstallReplacesExisting(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "ner_en")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(old, "stale.txt"), []byte("x"), 0o644))

	archive := buildArchive(t, nerEnFiles)
	srv := serveBytes(t, archive)
	m := ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: checksum(archive)}
	require.NoError(t, fastDownloader().Install(context.Background(), m, root, nil))

	assert.NoFileExists(t, filepath.Join(old, "stale.txt"))
	assert.NoDirExists(t, old+".old")
	assert.True(t, IsInstalled(root, m))
}

func TestInstallChecksumMismatch(t *testing.T) {
	archive := buildArchive(t, nerEnFiles)
	srv := serveBytes(t, archive)
	root := t.TempDir()

	err := fastDownloader().Install(context.Background(), ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: "sha256:deadbeef"}, root, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch: expected sha256:deadbeef, got "+checksum(archive))
	assert.NoDirExists(t, filepath.Join(root, "ner_en"))
}

func TestInstallRequiresChecksum(t *testing.T) {
	err := fastDownloader().Install(context.Background(), ModelSpec{Name: "ner_en", URL: "http://127.0.0.1:1"}, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checksum")
}

func TestInstallRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dl := fastDownloader()
	err := dl.Install(context.Background(), ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: "sha256:x"}, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download status 502")
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, int32(dl.Retries+1), hits.Load())
}

func TestInstallDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := fastDownloader().Install(context.Background(), ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: "sha256:x"}, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download status 404")
	assert.Equal(t, int32(1), hits.Load())
}

func TestInstallRecoversAfterTransientFailure(t *testing.T) {
	archive := buildArchive(t, nerEnFiles)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	root := t.TempDir()
	m := ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: checksum(archive)}
	require.NoError(t, fastDownloader().Install(context.Background(), m, root, nil))
	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, IsInstalled(root, m))
}

func TestInstallSlowNetwork(t *testing.T) {
	archive := buildArchive(t, nerEnFiles)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for chunk := range slices.Chunk(archive, 128) {
			_, _ = w.Write(chunk)
			w.(http.Flusher).Flush()
			time.Sleep(2 * time.Millisecond)
		}
	}))
	defer srv.Close()

	var reports atomic.Int32
	m := ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: checksum(archive)}
	require.NoError(t, fastDownloader().Install(context.Background(), m, t.TempDir(), func(Progress) { reports.Add(1) }))
	assert.Greater(t, reports.Load(), int32(1))
}

func TestInstallRootIsFile(t *testing.T) {
	archive := buildArchive(t, nerEnFiles)
	srv := serveBytes(t, archive)
	root := filepath.Join(t.TempDir(), "models-file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	err := fastDownloader().Install(context.Background(), ModelSpec{Name: "ner_en", URL: srv.URL, Checksum: checksum(archive)}, root, nil)
	assert.Error(t, err)
}

func TestInstallsAreSerialised(t *testing.T) {
	archive := buildArchive(t, nerEnFiles)
	var active, maxActive atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := active.Add(1)
		for {
			m := maxActive.Load()
			if cur <= m || maxActive.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(archive)
		active.Add(-1)
	}))
	defer srv.Close()

	dl := fastDownloader()
	root := t.TempDir()
	errCh := make(chan error, 2)
	for _, name := range []string{"ner_en", "ner_multi"} {
		go func() {
			errCh <- dl.Install(context.Background(), ModelSpec{Name: name, URL: srv.URL, Checksum: checksum(archive)}, root, nil)
		}()
	}
	for range 2 {
		require.NoError(t, <-errCh)
	}
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestIntegrationInstallRealModel(t *testing.T) {
	if os.Getenv("ANNOTEX_RUN_INTEGRATION") == "" {
		t.Skip("set ANNOTEX_RUN_INTEGRATION=1 to download a real model")
	}
	reg, err := LoadEmbeddedRegistry()
	require.NoError(t, err)
	m, ok := reg.Find("ner_en")
	require.True(t, ok)
	if strings.Contains(m.Checksum, "REPLACE_WITH_RELEASE_CHECKSUM") {
		t.Skip("registry checksum is a placeholder")
	}
	require.NoError(t, NewDownloader().Install(context.Background(), m, t.TempDir(), nil))
}
