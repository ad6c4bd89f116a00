package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Progress struct {
	Downloaded int64
	Total      int64
	SpeedMBps  float64
	ETA        time.Duration
}

type ProgressFunc func(Progress)

// errPermanent marks failures a retry cannot fix, such as a 404.
var errPermanent = errors.New("permanent download failure")

// Downloader installs model archives into a models root. Installs are
// serialised: a second call waits until the first one returns.
type Downloader struct {
	Client  *http.Client
	Retries int
	// RetryWait is the pause before the first retry; it doubles after each.
	RetryWait time.Duration
	Logger    *zap.Logger

	mu sync.Mutex
}

func NewDownloader() *Downloader {
	return &Downloader{
		Client:    &http.Client{},
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
		Logger:    zap.NewNop(),
	}
}

func (d *Downloader) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Install downloads spec's archive, checks its sha256 against the registry,
// unpacks it and swaps it into <root>/<name>. The previous install is kept
// until the new one is in place.
func (d *Downloader) Install(ctx context.Context, spec ModelSpec, root string, progress ProgressFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	log := d.logger().With(zap.String("model", spec.Name))

	if spec.Checksum == "" {
		return errors.Newf("registry has no checksum for model %s", spec.Name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(err, "create models root")
	}
	staging, err := os.MkdirTemp(root, ".staging-"+spec.Name+"-*")
	if err != nil {
		return errors.Wrap(err, "create staging dir")
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "archive.tar.gz")
	sum, err := d.fetchWithRetry(ctx, spec.URL, archive, progress)
	if err != nil {
		return err
	}
	if sum != spec.Checksum {
		return errors.Newf("checksum mismatch: expected %s, got %s", spec.Checksum, sum)
	}

	unpacked := filepath.Join(staging, "unpacked")
	if err := ExtractTarGz(archive, unpacked); err != nil {
		return errors.Wrap(err, "extract archive")
	}
	if err := prepareModelDir(unpacked, spec.Name, log); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(unpacked, ".checksum"), []byte(sum+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "record checksum")
	}

	dest := ModelInstallPath(root, spec.Name)
	if err := swapDir(unpacked, dest); err != nil {
		return errors.Wrap(err, "install model")
	}
	log.Info("model installed", zap.String("path", dest))
	return nil
}

// swapDir moves src to dest, restoring the old dest if the move fails.
func swapDir(src, dest string) error {
	backup := dest + ".old"
	_ = os.RemoveAll(backup)
	hadOld := false
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, backup); err != nil {
			return err
		}
		hadOld = true
	}
	if err := os.Rename(src, dest); err != nil {
		if hadOld {
			_ = os.Rename(backup, dest)
		}
		return err
	}
	return os.RemoveAll(backup)
}

func (d *Downloader) fetchWithRetry(ctx context.Context, url, dest string, progress ProgressFunc) (string, error) {
	wait := d.RetryWait
	attempts := 0
	for {
		attempts++
		sum, err := d.fetch(ctx, url, dest, progress)
		if err == nil {
			return sum, nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil || attempts > d.Retries {
			return "", errors.Wrapf(err, "download failed after %d attempt(s)", attempts)
		}
		d.logger().Warn("model download attempt failed", zap.Int("attempt", attempts), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// fetch writes the body of url to dest and returns its "sha256:<hex>" sum.
func (d *Downloader) fetch(ctx context.Context, url, dest string, progress ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Mark(err, errPermanent)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := errors.Newf("download status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			err = errors.Mark(err, errPermanent)
		}
		return "", err
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", errors.Mark(err, errPermanent)
	}
	h := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, start: time.Now(), report: progress}
	if _, err := io.Copy(io.MultiWriter(f, h, pw), resp.Body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Mark(err, errPermanent)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

type progressWriter struct {
	total  int64
	done   int64
	start  time.Time
	report ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.report == nil {
		return len(p), nil
	}
	const mb = 1024 * 1024
	pr := Progress{Downloaded: w.done, Total: w.total}
	if secs := time.Since(w.start).Seconds(); secs > 0 {
		pr.SpeedMBps = float64(w.done) / mb / secs
	}
	if w.total > 0 && pr.SpeedMBps > 0 {
		pr.ETA = time.Duration(float64(w.total-w.done) / mb / pr.SpeedMBps * float64(time.Second))
	}
	w.report(pr)
	return len(p), nil
}
