package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"annotex/internal/models"
)

func TestHumanBytes(t *testing.T) {
	if got := humanBytes(50 * 1024 * 1024); got != "50 MB" {
		t.Fatalf("unexpected: %s", got)
	}
	if got := humanBytes(0); got != "0 B" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestModelListAndInfo(t *testing.T) {
	reg := models.Registry{Models: []models.ModelSpec{{
		Name:        "ner_en",
		Language:    "en",
		SizeBytes:   50 * 1024 * 1024,
		EntityTypes: []string{"name", "location"},
		LabelTypes:  map[string]string{"PER": "name", "LOC": "location"},
		Description: "desc",
		URL:         "http://example",
		Version:     "1.0.0",
	}}}
	root := t.TempDir()

	var out bytes.Buffer
	if err := modelList(&out, reg, root); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ner_en") || !strings.Contains(out.String(), "not installed") {
		t.Fatalf("unexpected list output: %s", out.String())
	}

	out.Reset()
	if err := modelInfo(&out, reg, root, "ner_en"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "NER Model: ner_en") || !strings.Contains(out.String(), "PER") {
		t.Fatalf("unexpected info output: %s", out.String())
	}

	if err := modelInfo(&out, reg, root, "missing"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func installFakeModel(t *testing.T, root, labels, tokenizer string) {
	t.Helper()
	dir := filepath.Join(root, "ner_en")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "labels.json"), []byte(labels), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte(tokenizer), 0o644)
}

func TestModelVerifyDetectsInvalid(t *testing.T) {
	reg := models.Registry{Models: []models.ModelSpec{{Name: "ner_en", Checksum: "sha256:x"}}}
	root := t.TempDir()
	installFakeModel(t, root, "not-json", "{}")

	var out bytes.Buffer
	if err := modelVerify(&out, reg, root, nil); err == nil {
		t.Fatal("expected verification error")
	}
	if !strings.Contains(out.String(), "Loadable... ✗") {
		t.Fatalf("expected invalid loadable message: %s", out.String())
	}
}

func TestModelVerifyDetectsInvalidTokenizer(t *testing.T) {
	reg := models.Registry{Models: []models.ModelSpec{{Name: "ner_en", Checksum: "sha256:x"}}}
	root := t.TempDir()
	installFakeModel(t, root, `{"0":"O"}`, "not-json")

	var out bytes.Buffer
	if err := modelVerify(&out, reg, root, nil); err == nil {
		t.Fatal("expected verification error")
	}
	if !strings.Contains(out.String(), "tokenizer.json") {
		t.Fatalf("expected tokenizer error in output: %s", out.String())
	}
}

func TestModelVerifyAcceptsLoadableModel(t *testing.T) {
	t.Setenv("ANNOTEX_ONNX_BACKEND", "")
	reg := models.Registry{Models: []models.ModelSpec{{Name: "ner_en", Checksum: "sha256:abc"}}}
	root := t.TempDir()
	installFakeModel(t, root,
		`{"0":"O","1":"B-PER","2":"I-PER"}`,
		`{"model":{"vocab":{"[UNK]":0,"[CLS]":1,"[SEP]":2,"john":3}}}`)
	_ = os.WriteFile(filepath.Join(root, "ner_en", ".checksum"), []byte("sha256:abc\n"), 0o644)

	var out bytes.Buffer
	if err := modelVerify(&out, reg, root, nil); err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out.String())
	}
	for _, want := range []string{"Checksum... ✓", "Files...    ✓", "Loadable... ✓", "All models verified"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in output: %s", want, out.String())
		}
	}
}

func TestModelRemove(t *testing.T) {
	reg := models.Registry{Models: []models.ModelSpec{{Name: "ner_en"}}}
	root := t.TempDir()
	installFakeModel(t, root, "{}", "{}")

	var out bytes.Buffer
	if err := modelRemove(&out, strings.NewReader("n\n"), reg, root, "ner_en"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Cancelled") {
		t.Fatalf("expected cancel: %s", out.String())
	}
	if _, err := os.Stat(filepath.Join(root, "ner_en")); err != nil {
		t.Fatalf("model removed without confirmation: %v", err)
	}

	out.Reset()
	if err := modelRemove(&out, strings.NewReader("yes\n"), reg, root, "ner_en"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "ner_en")); !os.IsNotExist(err) {
		t.Fatalf("expected model dir to be gone, got %v", err)
	}

	out.Reset()
	if err := modelRemove(&out, strings.NewReader(""), reg, root, "ner_en"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "is not installed") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestSelectModels(t *testing.T) {
	reg := models.Registry{Models: []models.ModelSpec{{Name: "ner_en", Recommended: true}, {Name: "ner_multi"}}}
	all, err := selectModels(reg, nil, true)
	if err != nil || len(all) != 1 || all[0].Name != "ner_en" {
		t.Fatalf("unexpected selection: %v %v", all, err)
	}
	if _, err := selectModels(reg, nil, false); err == nil {
		t.Fatal("expected usage error")
	}
	if _, err := selectModels(reg, []string{"nope"}, false); err == nil {
		t.Fatal("expected not found error")
	}
}
