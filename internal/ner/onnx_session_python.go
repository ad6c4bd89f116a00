package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/cockroachdb/errors"
)

// pythonONNXSession shells out to onnxruntime's python bindings, so models
// work without the native library or cgo.
type pythonONNXSession struct {
	modelPath string
	python    string
}

type pythonInferRequest struct {
	ModelPath     string  `json:"model_path"`
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
	TokenTypeIDs  []int64 `json:"token_type_ids"`
}

type pythonInferResponse struct {
	Logits [][]float32 `json:"logits"`
	Error  string      `json:"error"`
}

func newPythonONNXSession(modelPath string) nerSession {
	python := os.Getenv("ANNOTEX_PYTHON")
	if python == "" {
		python = "python3"
	}
	return &pythonONNXSession{modelPath: modelPath, python: python}
}

func (s *pythonONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	payload, err := json.Marshal(pythonInferRequest{
		ModelPath:     s.modelPath,
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
		TokenTypeIDs:  tokenTypeIDs,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, s.python, "-c", pythonONNXInferScript)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		err = errors.Wrap(err, "python onnx inference failed")
		if stderr.Len() > 0 {
			err = errors.WithDetail(err, stderr.String())
		}
		return nil, errors.WithHint(err, "install the runtime with: pip3 install onnxruntime numpy")
	}

	resp := pythonInferResponse{}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, errors.Wrap(err, "parse python onnx output")
	}
	if resp.Error != "" {
		return nil, errors.Newf("python onnx inference error: %s", resp.Error)
	}
	return resp.Logits, nil
}

// pythonONNXInferScript reads one request on stdin and prints one response.
// Model inputs are bound by name; any input it does not know is zero-filled.
const pythonONNXInferScript = `
import json, sys

def reply(**kw):
    sys.stdout.write(json.dumps(kw))

try:
    import numpy as np
    import onnxruntime as ort
except Exception as exc:
    reply(error="onnxruntime and numpy are required: %s" % exc)
    sys.exit(0)

def main():
    req = json.load(sys.stdin)
    known = {k: np.asarray([req[k]], dtype=np.int64) for k in ("input_ids", "attention_mask", "token_type_ids")}
    sess = ort.InferenceSession(req["model_path"], providers=["CPUExecutionProvider"])
    shape = (1, len(req["input_ids"]))
    feed = {}
    for inp in sess.get_inputs():
        match = [v for k, v in known.items() if k in inp.name]
        feed[inp.name] = match[0] if match else np.zeros(shape, dtype=np.int64)
    logits = sess.run(None, feed)[0][0]
    reply(logits=logits.astype(np.float32).tolist())

try:
    main()
except Exception as exc:
    reply(error=str(exc))
`
