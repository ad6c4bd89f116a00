package models

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

//go:embed registry.json
var embeddedRegistry []byte

//go:embed ner_en/labels.json
var nerEnLabels []byte

// RequiredFiles must all be present for a model directory to load.
var RequiredFiles = []string{"model.onnx", "labels.json", "tokenizer.json"}

type Registry struct {
	Version string      `json:"version"`
	Models  []ModelSpec `json:"models"`
}

type Accuracy struct {
	F1Score   float64 `json:"f1_score"`
	Benchmark string  `json:"benchmark"`
}

type Requirements struct {
	MinMemoryMB int    `json:"min_memory_mb"`
	ONNXVersion string `json:"onnx_version"`
}

type ModelSpec struct {
	Name         string            `json:"name"`
	DisplayName  string            `json:"display_name"`
	Version      string            `json:"version"`
	Language     string            `json:"language"`
	URL          string            `json:"url"`
	Checksum     string            `json:"checksum"`
	SizeBytes    int64             `json:"size_bytes"`
	EntityTypes  []string          `json:"entity_types"`
	LabelTypes   map[string]string `json:"label_types"`
	Description  string            `json:"description"`
	Architecture string            `json:"architecture"`
	Accuracy     Accuracy          `json:"accuracy"`
	Requirements Requirements      `json:"requirements"`
	License      string            `json:"license"`
	Recommended  bool              `json:"recommended"`
}

// LabelsFor returns the model labels that map to entityType, sorted. It
// returns nil when the model declares no label mapping so callers can fall
// back to generic defaults.
func (m ModelSpec) LabelsFor(entityType string) []string {
	if len(m.LabelTypes) == 0 {
		return nil
	}
	out := make([]string, 0)
	for label, typ := range m.LabelTypes {
		if typ == entityType {
			out = append(out, label)
		}
	}
	slices.Sort(out)
	return out
}

func (m ModelSpec) Supports(entityType string) bool {
	return slices.Contains(m.EntityTypes, entityType)
}

func LoadEmbeddedRegistry() (Registry, error) {
	return parseRegistry(embeddedRegistry)
}

// parseRegistry sorts models by name and rejects entries without a name or
// with a name used twice.
func parseRegistry(data []byte) (Registry, error) {
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return Registry{}, errors.Wrap(err, "parse model registry")
	}
	slices.SortFunc(reg.Models, func(a, b ModelSpec) int { return strings.Compare(a.Name, b.Name) })
	for i, m := range reg.Models {
		if m.Name == "" {
			return Registry{}, errors.Newf("model registry entry %d has no name", i)
		}
		if i > 0 && reg.Models[i-1].Name == m.Name {
			return Registry{}, errors.Newf("model registry lists %q twice", m.Name)
		}
	}
	return reg, nil
}

func (r Registry) Find(name string) (ModelSpec, bool) {
	i := slices.IndexFunc(r.Models, func(m ModelSpec) bool { return m.Name == name })
	if i < 0 {
		return ModelSpec{}, false
	}
	return r.Models[i], true
}

// EmbeddedLabels returns the label file shipped in the binary for models
// whose archives omit it.
func EmbeddedLabels(modelName string) ([]byte, bool) {
	switch modelName {
	case "ner_en":
		return nerEnLabels, true
	default:
		return nil, false
	}
}

func DefaultModelsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".annotex", "models"), nil
}

func ModelInstallPath(root string, name string) string {
	return filepath.Join(root, name)
}

func IsInstalled(root string, model ModelSpec) bool {
	return hasFiles(ModelInstallPath(root, model.Name), RequiredFiles)
}

// InstalledChecksum reads the checksum recorded at install time.
func InstalledChecksum(root, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(ModelInstallPath(root, name), ".checksum"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
