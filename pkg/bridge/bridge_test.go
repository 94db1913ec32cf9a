package bridge

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/menta2k/cryptonet/pkg/engine"
	"github.com/menta2k/cryptonet/pkg/engine/enginetest"
	"github.com/menta2k/cryptonet/pkg/response"
)

func compareCall(eng *enginetest.Engine) Call {
	return func() (engine.Buffer, bool) {
		return eng.CompareEmbeddings(enginetest.DefaultHandle, []byte("{}"), []byte{1}, []byte{2})
	}
}

func TestInvokeReleasesOnSuccess(t *testing.T) {
	eng := enginetest.New().Respond(engine.OpCompareEmbeddings, []byte(`{"score":1.0}`))
	adapter := New(eng, zap.NewNop())

	result, err := adapter.Invoke(engine.OpCompareEmbeddings, compareCall(eng), response.Decode)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result != `{"score":1.0}` {
		t.Errorf("Expected score payload, got %q", result)
	}
	if eng.Allocations() != 1 || eng.Frees() != 1 || eng.Live() != 0 || eng.DoubleFrees() != 0 {
		t.Errorf("Expected one alloc and one free, got allocs=%d frees=%d live=%d double=%d",
			eng.Allocations(), eng.Frees(), eng.Live(), eng.DoubleFrees())
	}
	stats := adapter.Stats()
	if stats.Calls != 1 || stats.Released != 1 || stats.Failures != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestInvokeFailureReleasesWithoutDecoding(t *testing.T) {
	eng := enginetest.New().Fail(engine.OpCompareEmbeddings)
	adapter := New(eng, zap.NewNop())

	decoded := false
	decode := func(b engine.Buffer) (string, error) {
		decoded = true
		return response.Decode(b)
	}

	_, err := adapter.Invoke(engine.OpCompareEmbeddings, compareCall(eng), decode)
	if !errors.Is(err, response.ErrNoPayload) {
		t.Fatalf("Expected ErrNoPayload, got %v", err)
	}
	if decoded {
		t.Error("Decoder must not run when the engine reports failure")
	}
	if eng.Frees() != 1 || eng.Live() != 0 {
		t.Errorf("Non-null buffer must be released on failure, frees=%d live=%d", eng.Frees(), eng.Live())
	}
	if adapter.Stats().Failures != 1 {
		t.Errorf("Expected one failure, got %+v", adapter.Stats())
	}
}

func TestInvokeNullOutputIsNotReleased(t *testing.T) {
	eng := enginetest.New().NullOutput(engine.OpCompareEmbeddings)
	adapter := New(eng, zap.NewNop())

	_, err := adapter.Invoke(engine.OpCompareEmbeddings, compareCall(eng), response.Decode)
	if !errors.Is(err, response.ErrNoPayload) {
		t.Fatalf("Expected ErrNoPayload, got %v", err)
	}
	if eng.CallCount(engine.OpFreeCharBuffer) != 0 {
		t.Error("Null buffer must not be passed to free_char_buffer")
	}
}

func TestInvokeDecodeErrorStillReleases(t *testing.T) {
	eng := enginetest.New()
	adapter := New(eng, zap.NewNop())
	decodeErr := errors.New("decode failed")

	_, err := adapter.Invoke(engine.OpCompareEmbeddings, compareCall(eng), func(engine.Buffer) (string, error) {
		return "", decodeErr
	})
	if !errors.Is(err, decodeErr) {
		t.Fatalf("Expected decode error, got %v", err)
	}
	if eng.Frees() != 1 || eng.Live() != 0 {
		t.Errorf("Buffer must be released after decode error, frees=%d live=%d", eng.Frees(), eng.Live())
	}
}

func TestInvokeReleasesAfterDecode(t *testing.T) {
	eng := enginetest.New().Respond(engine.OpCompareEmbeddings, []byte("payload"))
	adapter := New(eng, zap.NewNop())

	_, err := adapter.Invoke(engine.OpCompareEmbeddings, compareCall(eng), func(b engine.Buffer) (string, error) {
		if eng.Frees() != 0 {
			t.Error("Buffer released before decode")
		}
		return response.Decode(b)
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
}

func TestInvokeManyCallsNoLeak(t *testing.T) {
	eng := enginetest.New()
	adapter := New(eng, nil)

	for i := 0; i < 50; i++ {
		if _, err := adapter.Invoke(engine.OpCompareEmbeddings, compareCall(eng), response.Decode); err != nil {
			t.Fatalf("Invoke %d failed: %v", i, err)
		}
	}
	if eng.Allocations() != 50 || eng.Frees() != 50 || eng.Live() != 0 {
		t.Errorf("Expected 50 allocs/frees, got allocs=%d frees=%d live=%d", eng.Allocations(), eng.Frees(), eng.Live())
	}
}
