//go:build !onnxruntime

package ner

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

func createONNXSession(modelPath string, _ int) (nerSession, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ANNOTEX_ONNX_BACKEND")))
	if backend == "native" {
		return nil, errors.WithHint(
			errors.New("native ONNX backend requires build tag 'onnxruntime'"),
			"rebuild with -tags onnxruntime or unset ANNOTEX_ONNX_BACKEND",
		)
	}
	return newPythonONNXSession(modelPath), nil
}
