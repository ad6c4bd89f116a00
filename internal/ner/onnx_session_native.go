//go:build onnxruntime

package ner

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

func initONNXRuntime() error {
	runtimeOnce.Do(func() {
		if lib := os.Getenv("ANNOTEX_ONNXRUNTIME_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

func createONNXSession(modelPath string, numLabels int) (nerSession, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ANNOTEX_ONNX_BACKEND")))
	if backend == "python" {
		return newPythonONNXSession(modelPath), nil
	}
	if err := initONNXRuntime(); err != nil {
		return nil, errors.Wrap(err, "initialize onnxruntime")
	}
	if numLabels <= 0 {
		return nil, errors.New("model has no labels")
	}
	return &nativeONNXSession{modelPath: modelPath, numLabels: numLabels}, nil
}

// nativeONNXSession builds a session per call because the input shape
// follows the document length.
type nativeONNXSession struct {
	modelPath string
	numLabels int
}

func (s *nativeONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int64(len(inputIDs))
	shape := ort.NewShape(1, n)
	ids, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, errors.Wrap(err, "input_ids tensor")
	}
	defer ids.Destroy()
	mask, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, errors.Wrap(err, "attention_mask tensor")
	}
	defer mask.Destroy()
	types, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, errors.Wrap(err, "token_type_ids tensor")
	}
	defer types.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(s.numLabels)))
	if err != nil {
		return nil, errors.Wrap(err, "logits tensor")
	}
	defer out.Destroy()

	session, err := ort.NewAdvancedSession(s.modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.Value{ids, mask, types},
		[]ort.Value{out},
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create onnx session")
	}
	defer session.Destroy()
	if err := session.Run(); err != nil {
		return nil, errors.Wrap(err, "run onnx session")
	}

	data := out.GetData()
	rows := make([][]float32, n)
	for i := range rows {
		start := i * s.numLabels
		rows[i] = append([]float32(nil), data[start:start+s.numLabels]...)
	}
	return rows, nil
}
