package index

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
)

// maxJSONLLine bounds a single document line when reading dumps.
const maxJSONLLine = 16 * 1024 * 1024

// JSONLWriter appends documents as JSON lines. It is safe for concurrent use.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

func (w *JSONLWriter) Write(doc Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(doc); err != nil {
		return errors.Wrap(err, "write document")
	}
	return nil
}

// AppendJSONL opens path for appending, creating it and its directory.
func AppendJSONL(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create dump dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open dump")
	}
	return f, nil
}

// ReadJSONL decodes one document per line. Blank lines are skipped; a
// malformed line is an error naming its line number.
func ReadJSONL(r io.Reader) ([]Document, error) {
	var docs []Document
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)
	line := 0
	for s.Scan() {
		line++
		raw := s.Bytes()
		if len(raw) == 0 {
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		docs = append(docs, doc)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "scan dump")
	}
	return docs, nil
}

// ReadJSONLFile returns no documents when path does not exist.
func ReadJSONLFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}
