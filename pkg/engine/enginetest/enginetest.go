// Package enginetest provides an instrumented in-memory engine for tests.
package enginetest

import (
	"sync"

	"github.com/menta2k/cryptonet/pkg/engine"
)

// DefaultHandle is the session handle returned by a successful InitializeSession.
const DefaultHandle engine.Handle = 0xC0FFEE

// Call records the arguments of one engine call.
type Call struct {
	Op       string
	Handle   engine.Handle
	Config   []byte
	Input    []byte
	Second   []byte
	Width    int
	Height   int
	Settings []byte
}

// Engine is a stub engine that answers every operation with a configured
// payload and keeps count of every allocation and release.
//
// Each returned Buffer owns a fresh copy of its payload, so tests can see
// leaks (Live > 0) and double frees (DoubleFrees > 0).
type Engine struct {
	VersionString string
	// InitFails makes InitializeSession return false.
	InitFails bool
	// Responses maps an op name (engine.Op*) to the payload it returns.
	Responses map[string][]byte
	// Failures makes an op return false. The payload is still allocated
	// unless Null is also set for that op.
	Failures map[string]bool
	// Null makes an op leave its output pointer unset.
	Null map[string]bool
	// ConfigRejected makes SetConfiguration return false.
	ConfigRejected bool
	// ModelsLoaded is returned by CheckModels.
	ModelsLoaded bool

	mu          sync.Mutex
	calls       []Call
	nextRef     uintptr
	live        map[uintptr]bool
	allocs      int
	frees       int
	doubleFrees int
	libDirs     []string
}

// New returns a stub engine that answers `{}` to every buffer operation.
func New() *Engine {
	return &Engine{
		VersionString: "stub-1.0.0",
		Responses:     map[string][]byte{},
		Failures:      map[string]bool{},
		Null:          map[string]bool{},
		ModelsLoaded:  true,
		live:          map[uintptr]bool{},
		nextRef:       0x1000,
	}
}

// Respond sets the payload returned by op.
func (e *Engine) Respond(op string, payload []byte) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Responses[op] = payload
	return e
}

// Fail makes op report failure.
func (e *Engine) Fail(op string) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Failures[op] = true
	return e
}

// NullOutput makes op leave its output buffer unset.
func (e *Engine) NullOutput(op string) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Null[op] = true
	return e
}

func (e *Engine) Version() string {
	e.record(Call{Op: engine.OpGetVersion})
	return e.VersionString
}

func (e *Engine) InitializeLib(workingDir string) {
	e.record(Call{Op: engine.OpInitializeLib})
	e.mu.Lock()
	e.libDirs = append(e.libDirs, workingDir)
	e.mu.Unlock()
}

func (e *Engine) InitializeSession(settings []byte) (engine.Handle, bool) {
	e.record(Call{Op: engine.OpInitializeSession, Settings: clone(settings)})
	if e.InitFails {
		return 0, false
	}
	return DefaultHandle, true
}

func (e *Engine) DeinitializeSession(h engine.Handle) {
	e.record(Call{Op: engine.OpDeinitializeSession, Handle: h})
}

func (e *Engine) SetConfiguration(h engine.Handle, config []byte) bool {
	e.record(Call{Op: engine.OpSetConfiguration, Handle: h, Config: clone(config)})
	return !e.ConfigRejected
}

func (e *Engine) UserEnroll(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return e.imageCall(engine.OpUserEnroll, h, config, image, width, height)
}

func (e *Engine) UserPredict(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return e.imageCall(engine.OpUserPredict, h, config, image, width, height)
}

func (e *Engine) DocScanFront(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return e.imageCall(engine.OpDocScanFront, h, config, image, width, height)
}

func (e *Engine) DocScanBack(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return e.imageCall(engine.OpDocScanBack, h, config, image, width, height)
}

func (e *Engine) CompareEmbeddings(h engine.Handle, config, embeddingOne, embeddingTwo []byte) (engine.Buffer, bool) {
	e.record(Call{
		Op:     engine.OpCompareEmbeddings,
		Handle: h,
		Config: clone(config),
		Input:  clone(embeddingOne),
		Second: clone(embeddingTwo),
	})
	return e.output(engine.OpCompareEmbeddings)
}

func (e *Engine) EncryptPayload(h engine.Handle, config, payload []byte) (engine.Buffer, bool) {
	e.record(Call{Op: engine.OpEncryptPayload, Handle: h, Config: clone(config), Input: clone(payload)})
	return e.output(engine.OpEncryptPayload)
}

func (e *Engine) AboutModels(h engine.Handle) engine.Buffer {
	e.record(Call{Op: engine.OpAboutModels, Handle: h})
	buf, _ := e.output(engine.OpAboutModels)
	return buf
}

func (e *Engine) CheckModels(enrollMode bool) bool {
	e.record(Call{Op: engine.OpCheckModels})
	return e.ModelsLoaded
}

func (e *Engine) FreeCharBuffer(b engine.Buffer) {
	e.record(Call{Op: engine.OpFreeCharBuffer})
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live[b.Ref] {
		e.doubleFrees++
		return
	}
	delete(e.live, b.Ref)
	e.frees++
}

// Calls returns every recorded call in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (e *Engine) CallCount(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// TotalCalls returns the number of recorded calls of any kind.
func (e *Engine) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// LastCall returns the most recent call to op.
func (e *Engine) LastCall(op string) (Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.calls) - 1; i >= 0; i-- {
		if e.calls[i].Op == op {
			return e.calls[i], true
		}
	}
	return Call{}, false
}

// Allocations returns the number of output buffers handed out.
func (e *Engine) Allocations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocs
}

// Frees returns the number of valid releases.
func (e *Engine) Frees() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frees
}

// Live returns the number of buffers not yet released.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// DoubleFrees returns the number of releases of unknown or already released buffers.
func (e *Engine) DoubleFrees() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doubleFrees
}

// LibraryDirs returns the working directories passed to InitializeLib.
func (e *Engine) LibraryDirs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.libDirs...)
}

func (e *Engine) imageCall(op string, h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	e.record(Call{
		Op:     op,
		Handle: h,
		Config: clone(config),
		Input:  clone(image),
		Width:  width,
		Height: height,
	})
	return e.output(op)
}

func (e *Engine) output(op string) (engine.Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := !e.Failures[op]
	if e.Null[op] {
		return engine.Buffer{}, ok
	}
	payload, found := e.Responses[op]
	if !found {
		payload = []byte("{}")
	}
	ref := e.nextRef
	e.nextRef++
	e.live[ref] = true
	e.allocs++
	return engine.Buffer{Ref: ref, Data: clone(payload)}, ok
}

func (e *Engine) record(c Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
