package models

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ExtractTarGz unpacks regular files and directories below dest. Entries
// that would escape dest, links and devices are skipped.
func ExtractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	root := filepath.Clean(dest)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			continue
		}
		if err != nil {
			return err
		}
		target, ok := entryPath(root, hdr.Name)
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			err = writeEntry(target, tr)
		}
		if err != nil {
			return errors.Wrapf(err, "extract %s", hdr.Name)
		}
	}
}

func entryPath(root, name string) (string, bool) {
	clean := filepath.Clean(strings.TrimPrefix(name, "./"))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", false
	}
	target := filepath.Join(root, clean)
	return target, strings.HasPrefix(target, root+string(os.PathSeparator))
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// locateModelFiles finds the directory holding the model files: base itself
// or one of its direct subdirectories, as archives often wrap everything in
// a top-level folder.
func locateModelFiles(base string, required []string) (string, bool) {
	dirs := []string{base}
	if entries, err := os.ReadDir(base); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(base, e.Name()))
			}
		}
	}
	for _, d := range dirs {
		if hasFiles(d, required) {
			return d, true
		}
	}
	return "", false
}

func hasFiles(dir string, names []string) bool {
	for _, f := range names {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return false
		}
	}
	return true
}

// ValidateModelDir checks that base holds every required file, hoisting them
// from a single wrapping subdirectory when needed.
func ValidateModelDir(base string) error {
	dir, ok := locateModelFiles(base, RequiredFiles)
	if !ok {
		return errors.WithHint(
			errors.New("invalid model archive: missing required files"),
			"an archive must contain "+strings.Join(RequiredFiles, ", "),
		)
	}
	if dir == base {
		return nil
	}
	for _, name := range RequiredFiles {
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(base, name)); err != nil {
			return err
		}
	}
	return nil
}

// prepareModelDir validates an unpacked archive. Archives of models with an
// embedded label file may omit labels.json.
func prepareModelDir(dir, name string, log *zap.Logger) error {
	err := ValidateModelDir(dir)
	if err == nil {
		return nil
	}
	labels, ok := EmbeddedLabels(name)
	if !ok {
		return err
	}
	withoutLabels := []string{"model.onnx", "tokenizer.json"}
	found, ok := locateModelFiles(dir, withoutLabels)
	if !ok || hasFiles(found, []string{"labels.json"}) {
		return err
	}
	if werr := os.WriteFile(filepath.Join(found, "labels.json"), labels, 0o644); werr != nil {
		return errors.Wrap(werr, "write embedded labels")
	}
	log.Info("archive has no labels.json, using embedded labels")
	return ValidateModelDir(dir)
}
