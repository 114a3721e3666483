package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/fingerprint-match/internal/embedding"
	"github.com/example/fingerprint-match/internal/imaging"
)

type sidecar interface {
	embed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	describe(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// fakeSidecar sums the tensor and echoes the shape it received.
type fakeSidecar struct {
	inputShape []any
	failFirst  int
	calls      int
}

func (f *fakeSidecar) embed(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, status.Error(codes.Unavailable, "warming up")
	}
	var sum float64
	for _, v := range req.GetFields()["values"].GetListValue().GetValues() {
		sum += v.GetNumberValue()
	}
	rank := float64(len(req.GetFields()["shape"].GetListValue().GetValues()))
	return structpb.NewStruct(map[string]any{"embedding": []any{sum, rank}})
}

func (f *fakeSidecar) describe(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if f.inputShape == nil {
		return &structpb.Struct{}, nil
	}
	return structpb.NewStruct(map[string]any{"input_shape": f.inputShape})
}

var sidecarDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sidecar)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Embed",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return srv.(sidecar).embed(ctx, req)
			},
		},
		{
			MethodName: "Describe",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &emptypb.Empty{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return srv.(sidecar).describe(ctx, req)
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}

func startSidecar(t *testing.T, impl *fakeSidecar, opts Options) *Embedder {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&sidecarDesc, impl)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	client, conn, err := DialEmbedder(context.Background(), "bufnet", opts, zap.NewNop(), grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return client
}

func TestEmbedSendsTensor(t *testing.T) {
	client := startSidecar(t, &fakeSidecar{}, Options{})

	tensor := &imaging.Tensor{Shape: imaging.Shape{Height: 2, Width: 2}, Data: []float32{0.25, 0.25, 0.5, 0}}
	vec, err := client.Embed(context.Background(), tensor)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 1 || vec[1] != 4 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestEmbedRetriesUnavailable(t *testing.T) {
	impl := &fakeSidecar{failFirst: 1}
	client := startSidecar(t, impl, Options{MaxRetries: 3, InitialBackoff: time.Millisecond})

	tensor := &imaging.Tensor{Shape: imaging.Shape{Height: 1, Width: 1}, Data: []float32{1}}
	if _, err := client.Embed(context.Background(), tensor); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if impl.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", impl.calls)
	}
}

func TestEmbedReturnsErrorWithoutRetries(t *testing.T) {
	client := startSidecar(t, &fakeSidecar{failFirst: 5}, Options{MaxRetries: 1})

	tensor := &imaging.Tensor{Shape: imaging.Shape{Height: 1, Width: 1}, Data: []float32{1}}
	_, err := client.Embed(context.Background(), tensor)
	if status.Code(errorsUnwrap(err)) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestInputShape(t *testing.T) {
	cases := []struct {
		name  string
		shape []any
		want  imaging.Shape
	}{
		{name: "keras", shape: []any{nil, 128.0, 112.0, 1.0}, want: imaging.Shape{Height: 128, Width: 112}},
		{name: "bare", shape: []any{64.0, 80.0}, want: imaging.Shape{Height: 64, Width: 80}},
		{name: "undeclared", want: imaging.DefaultShape},
		{name: "invalid", shape: []any{nil, nil, nil, 1.0}, want: imaging.DefaultShape},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := startSidecar(t, &fakeSidecar{inputShape: tc.shape}, Options{})
			got, err := client.InputShape(context.Background())
			if err != nil {
				t.Fatalf("input shape: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEmbedRejectsTensorOfWrongShapeBeforeCalling(t *testing.T) {
	impl := &fakeSidecar{inputShape: []any{nil, 2.0, 2.0, 1.0}}
	client := startSidecar(t, impl, Options{})
	if _, err := client.InputShape(context.Background()); err != nil {
		t.Fatalf("input shape: %v", err)
	}

	cases := map[string]*imaging.Tensor{
		"other shape": {Shape: imaging.Shape{Height: 3, Width: 3}, Data: make([]float32, 9)},
		"short data":  {Shape: imaging.Shape{Height: 2, Width: 2}, Data: make([]float32, 3)},
		"nil":         nil,
	}
	for name, tensor := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.Embed(context.Background(), tensor)
			if !errors.Is(err, embedding.ErrShapeMismatch) {
				t.Fatalf("expected ErrShapeMismatch, got %v", err)
			}
		})
	}
	if impl.calls != 0 {
		t.Fatalf("expected no embed calls, got %d", impl.calls)
	}
}

func errorsUnwrap(err error) error {
	for {
		next, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := next.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}
