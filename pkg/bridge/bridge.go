// Package bridge enforces the raw-buffer call protocol shared by every
// engine operation.
//
// A call either fails (coarse boolean false, nothing decoded) or hands an
// engine-allocated buffer to the caller. In both cases a non-null buffer is
// released through the engine exactly once, after decoding, on every exit
// path.
package bridge

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/menta2k/cryptonet/pkg/engine"
	"github.com/menta2k/cryptonet/pkg/response"
)

// Call performs one engine invocation and returns its output buffer and
// success flag. Input buffers captured by the closure must stay alive until
// it returns.
type Call func() (engine.Buffer, bool)

// Stats counts adapter activity.
type Stats struct {
	Calls    int64
	Failures int64
	Released int64
}

// Adapter invokes engine calls and owns the lifetime of their output buffers.
type Adapter struct {
	engine engine.Engine
	logger *zap.Logger

	calls    atomic.Int64
	failures atomic.Int64
	released atomic.Int64
}

// New creates an adapter releasing buffers through eng.
func New(eng engine.Engine, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{engine: eng, logger: logger.Named("bridge")}
}

// Invoke runs call and decodes its output with decode.
//
// On engine failure no decode is attempted and response.ErrNoPayload is
// returned. The output buffer, if any, is released before Invoke returns.
func (a *Adapter) Invoke(op string, call Call, decode response.Decoder) (result string, err error) {
	a.calls.Add(1)
	buf, ok := call()
	defer a.release(op, buf)

	if !ok {
		a.failures.Add(1)
		a.logger.Debug("engine call failed",
			zap.String("op", op),
			zap.Bool("null_output", buf.IsNull()))
		return "", fmt.Errorf("%s: %w", op, response.ErrNoPayload)
	}

	result, err = decode(buf)
	if err != nil {
		a.failures.Add(1)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	a.logger.Debug("engine call succeeded",
		zap.String("op", op),
		zap.Int("output_bytes", len(buf.Data)))
	return result, nil
}

// Stats returns a snapshot of the adapter counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Calls:    a.calls.Load(),
		Failures: a.failures.Load(),
		Released: a.released.Load(),
	}
}

func (a *Adapter) release(op string, buf engine.Buffer) {
	if buf.IsNull() {
		return
	}
	a.engine.FreeCharBuffer(buf)
	a.released.Add(1)
	a.logger.Debug("output buffer released", zap.String("op", op))
}
