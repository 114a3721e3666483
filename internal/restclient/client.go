// Package restclient calls an embedding model exported behind a
// TensorFlow-Serving compatible REST API.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/embedding"
	"github.com/example/fingerprint-match/internal/imaging"
	"github.com/example/fingerprint-match/internal/logging"
)

// Embedder implements embedding.Embedder against baseURL, e.g.
// http://tf-serving:8501/v1/models/fingerprint.
type Embedder struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	shape imaging.Shape // set once the metadata has been read
}

var _ embedding.Embedder = (*Embedder)(nil)

// NewEmbedder builds a REST embedding client.
func NewEmbedder(baseURL string, timeout time.Duration, logger *zap.Logger) *Embedder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("rest_embedder"),
	}
}

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float32 `json:"predictions"`
	Error       string      `json:"error"`
}

// Embed posts the tensor as a single instance of shape (H, W, 1).
func (e *Embedder) Embed(ctx context.Context, tensor *imaging.Tensor) (embedding.Vector, error) {
	if err := embedding.CheckTensor(tensor, e.expectedShape(tensor)); err != nil {
		return nil, logging.NewOperationError("restclient.embed", "", err)
	}
	instance := make([][][]float32, tensor.Shape.Height)
	for y, row := range tensor.Rows() {
		instance[y] = make([][]float32, len(row))
		for x, v := range row {
			instance[y][x] = []float32{v}
		}
	}

	body, err := json.Marshal(predictRequest{Instances: [][][][]float32{instance}})
	if err != nil {
		return nil, logging.NewOperationError("restclient.embed", "", err)
	}

	var resp predictResponse
	if err := e.do(ctx, http.MethodPost, e.baseURL+":predict", body, &resp); err != nil {
		return nil, logging.NewOperationError("restclient.embed", "", err)
	}
	if resp.Error != "" {
		return nil, logging.NewOperationError("restclient.embed", "", fmt.Errorf("model error: %s", resp.Error))
	}
	if len(resp.Predictions) == 0 || len(resp.Predictions[0]) == 0 {
		return nil, logging.NewOperationError("restclient.embed", "", embedding.ErrEmptyVector)
	}
	return embedding.Vector(resp.Predictions[0]), nil
}

type metadataResponse struct {
	Metadata struct {
		SignatureDef struct {
			SignatureDef map[string]struct {
				Inputs map[string]struct {
					TensorShape struct {
						Dim []struct {
							Size string `json:"size"`
						} `json:"dim"`
					} `json:"tensor_shape"`
				} `json:"inputs"`
			} `json:"signature_def"`
		} `json:"signature_def"`
	} `json:"metadata"`
}

// InputShape reads the serving_default signature. Dynamic or missing spatial
// dimensions yield imaging.DefaultShape.
func (e *Embedder) InputShape(ctx context.Context) (imaging.Shape, error) {
	var meta metadataResponse
	if err := e.do(ctx, http.MethodGet, e.baseURL+"/metadata", nil, &meta); err != nil {
		return imaging.Shape{}, logging.NewOperationError("restclient.metadata", "", err)
	}

	// The embedding network has a single image input.
	for _, input := range meta.Metadata.SignatureDef.SignatureDef["serving_default"].Inputs {
		var sizes []string
		for _, d := range input.TensorShape.Dim {
			sizes = append(sizes, d.Size)
		}
		if shape, ok := shapeFromDims(sizes); ok {
			return e.remember(shape), nil
		}
	}

	e.logger.Warn("model does not declare an input shape, using default", zap.Stringer("shape", imaging.DefaultShape))
	return e.remember(imaging.DefaultShape), nil
}

func (e *Embedder) remember(shape imaging.Shape) imaging.Shape {
	e.mu.Lock()
	e.shape = shape
	e.mu.Unlock()
	return shape
}

// expectedShape is the declared input shape, or the tensor's own shape
// before the metadata has been read.
func (e *Embedder) expectedShape(tensor *imaging.Tensor) imaging.Shape {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.shape != (imaging.Shape{}) || tensor == nil {
		return e.shape
	}
	return tensor.Shape
}

func shapeFromDims(sizes []string) (imaging.Shape, bool) {
	if len(sizes) != 4 {
		return imaging.Shape{}, false
	}
	h, errH := strconv.Atoi(sizes[1])
	w, errW := strconv.Atoi(sizes[2])
	shape := imaging.Shape{Height: h, Width: w}
	if errH != nil || errW != nil || shape.Validate() != nil {
		return imaging.Shape{}, false
	}
	return shape, true
}

func (e *Embedder) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
