// Package embedding defines the boundary to the pretrained fingerprint
// embedding model.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/fingerprint-match/internal/imaging"
)

// Vector is the fixed-length output of the embedding model.
type Vector []float32

// Embedder maps a normalized (1, H, W, 1) tensor to an embedding vector.
// Implementations must be safe for concurrent use and must return the same
// vector for numerically identical tensors.
type Embedder interface {
	Embed(ctx context.Context, tensor *imaging.Tensor) (Vector, error)
	// InputShape reports the spatial input size the model was built for.
	InputShape(ctx context.Context) (imaging.Shape, error)
}

// ErrShapeMismatch reports a tensor whose size differs from the model input.
var ErrShapeMismatch = errors.New("tensor shape does not match model input")

// ErrEmptyVector reports a backend response without values.
var ErrEmptyVector = errors.New("embedding vector is empty")

// L2Distance computes the Euclidean distance between two vectors.
func L2Distance(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: L2 distance dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// CheckTensor verifies tensor against the declared model input shape.
func CheckTensor(tensor *imaging.Tensor, shape imaging.Shape) error {
	if tensor == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if tensor.Shape != shape || len(tensor.Data) != shape.Height*shape.Width {
		return fmt.Errorf("%w: got %s, model expects %s", ErrShapeMismatch, tensor.Shape, shape)
	}
	return nil
}
