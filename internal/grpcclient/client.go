// Package grpcclient talks to the model-serving sidecar that hosts the
// fingerprint embedding network.
package grpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/fingerprint-match/internal/embedding"
	"github.com/example/fingerprint-match/internal/imaging"
	"github.com/example/fingerprint-match/internal/logging"
)

// Method names served by the sidecar. Payloads are google.protobuf.Struct:
//
//	Embed    {"shape": [1,H,W,1], "values": [...]} -> {"embedding": [...]}
//	Describe Empty -> {"input_shape": [null,H,W,1]} (or [H,W])
const (
	ServiceName    = "fingerprint.v1.Embedder"
	embedMethod    = "/" + ServiceName + "/Embed"
	describeMethod = "/" + ServiceName + "/Describe"
)

// Options tune the client.
type Options struct {
	CallTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// DialEmbedder returns a ready-to-use embedding client for the sidecar at addr.
func DialEmbedder(ctx context.Context, addr string, opts Options, logger *zap.Logger, dialOpts ...grpc.DialOption) (*Embedder, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, dialOpts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_embedder", "", err)
		logger.Error("failed to dial embedding service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewEmbedder(conn, opts, logger), conn, nil
}

// NewEmbedder wraps an existing connection.
func NewEmbedder(conn grpc.ClientConnInterface, opts Options, logger *zap.Logger) *Embedder {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	return &Embedder{conn: conn, opts: opts, logger: logger.Named("grpc_embedder")}
}

// Embedder implements embedding.Embedder over gRPC.
type Embedder struct {
	conn   grpc.ClientConnInterface
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	shape imaging.Shape // set once the sidecar has described its input
}

var _ embedding.Embedder = (*Embedder)(nil)

// Embed sends tensor to the sidecar and returns the embedding.
func (e *Embedder) Embed(ctx context.Context, tensor *imaging.Tensor) (embedding.Vector, error) {
	if err := embedding.CheckTensor(tensor, e.expectedShape(tensor)); err != nil {
		return nil, logging.NewOperationError("grpcclient.embed", "", err)
	}
	req := encodeTensor(tensor)
	resp := &structpb.Struct{}
	if err := e.invoke(ctx, embedMethod, req, resp); err != nil {
		return nil, logging.NewOperationError("grpcclient.embed", "", err)
	}

	vector, err := decodeVector(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.embed", "", err)
	}
	return vector, nil
}

// InputShape asks the sidecar for the model input size. A model that does not
// declare one yields imaging.DefaultShape.
func (e *Embedder) InputShape(ctx context.Context) (imaging.Shape, error) {
	resp := &structpb.Struct{}
	if err := e.invoke(ctx, describeMethod, &emptypb.Empty{}, resp); err != nil {
		return imaging.Shape{}, logging.NewOperationError("grpcclient.describe", "", err)
	}

	shape, ok := shapeFromList(resp.GetFields()["input_shape"].GetListValue())
	if !ok {
		e.logger.Warn("model does not declare an input shape, using default", zap.Stringer("shape", imaging.DefaultShape))
		shape = imaging.DefaultShape
	}
	e.mu.Lock()
	e.shape = shape
	e.mu.Unlock()
	return shape, nil
}

// expectedShape is the described input shape, or the tensor's own shape
// before the sidecar has been described.
func (e *Embedder) expectedShape(tensor *imaging.Tensor) imaging.Shape {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.shape != (imaging.Shape{}) || tensor == nil {
		return e.shape
	}
	return tensor.Shape
}

func (e *Embedder) invoke(ctx context.Context, method string, req, resp any) error {
	backoff := e.opts.InitialBackoff
	var err error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		err = e.conn.Invoke(callCtx, method, req, resp)
		cancel()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		e.logger.Warn("transient embedding service error", zap.String("method", method), zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return err
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

func encodeTensor(tensor *imaging.Tensor) *structpb.Struct {
	dims := tensor.Dims()
	shape := make([]*structpb.Value, len(dims))
	for i, d := range dims {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	values := make([]*structpb.Value, len(tensor.Data))
	for i, v := range tensor.Data {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"shape":  structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"values": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func decodeVector(resp *structpb.Struct) (embedding.Vector, error) {
	list := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(list) == 0 {
		return nil, embedding.ErrEmptyVector
	}
	vector := make(embedding.Vector, len(list))
	for i, v := range list {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("embedding value %d is not a number", i)
		}
		vector[i] = float32(n.NumberValue)
	}
	return vector, nil
}

// shapeFromList accepts Keras style [null,H,W,1] or a bare [H,W].
func shapeFromList(list *structpb.ListValue) (imaging.Shape, bool) {
	values := list.GetValues()
	var h, w *structpb.Value
	switch len(values) {
	case 2:
		h, w = values[0], values[1]
	case 4:
		h, w = values[1], values[2]
	default:
		return imaging.Shape{}, false
	}
	shape := imaging.Shape{Height: int(h.GetNumberValue()), Width: int(w.GetNumberValue())}
	if shape.Validate() != nil {
		return imaging.Shape{}, false
	}
	return shape, true
}
