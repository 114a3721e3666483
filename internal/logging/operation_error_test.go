package logging

import (
	"errors"
	"testing"
)

var errKind = errors.New("kind")

func TestOperationErrorFormatsRequestID(t *testing.T) {
	err := NewOperationError("store.scan", "req-1", errors.New("boom"))
	if got, want := err.Error(), "store.scan (request_id=req-1): boom"; got != want {
		t.Fatalf("unexpected message: %q, want %q", got, want)
	}
	if OperationOf(err) != "store.scan" {
		t.Fatalf("unexpected operation: %q", OperationOf(err))
	}
}

func TestNewOperationErrorKeepsNil(t *testing.T) {
	if err := NewOperationError("noop", "", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestClassifyKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewOperationError("store.scan", "", Classify(errKind, cause))

	if !errors.Is(err, errKind) {
		t.Fatal("expected kind to be reported")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reported")
	}
	if again := Classify(errKind, err); again != err {
		t.Fatal("expected already classified error to be returned unchanged")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = logger.Sync()
}
