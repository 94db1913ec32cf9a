// Package native binds engine.Engine to the privid shared library at run
// time.
//
// All unsafe code lives here. Native pointers never leave this package
// except as the opaque engine.Handle and engine.Buffer.Ref values, and Go
// input slices are only borrowed for the duration of a single call. The
// library is not thread-safe; callers serialize access per session.
package native

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/menta2k/cryptonet/pkg/engine"
)

// ErrSymbolMissing is returned by Open when a required entry point is absent.
var ErrSymbolMissing = errors.New("required engine symbol missing")

// maxNativeString bounds NUL scans over engine-owned memory.
const maxNativeString = 64 << 20

// Library is a loaded engine shared library.
type Library struct {
	path   string
	handle uintptr

	getVersion          func() string
	initializeLib       func(dir *byte, dirLen int32)
	initializeSession   func(settings *byte, settingsLen uint32, sessionOut *uintptr) bool
	deinitializeSession func(session uintptr)
	freeCharBuffer      func(buf uintptr)
	userEnroll          func(session uintptr, cfg *byte, cfgLen int32, img *byte, w, h int32, out *uintptr, outLen *int32) int32
	userPredict         func(session uintptr, cfg *byte, cfgLen int32, img *byte, w, h int32, out *uintptr, outLen *int32) int32
	docScanFront        func(session uintptr, cfg *byte, cfgLen int32, img *byte, w, h int32, out *uintptr, outLen *int32) int32
	docScanBack         func(session uintptr, cfg *byte, cfgLen int32, img *byte, w, h int32, out *uintptr, outLen *int32) int32
	compareEmbeddings   func(session uintptr, cfg *byte, cfgLen int32, a *byte, aLen int32, b *byte, bLen int32, out *uintptr, outLen *int32) int32

	// Optional entry points; nil when the library does not export them.
	setConfiguration func(session uintptr, cfg *byte, cfgLen int32) bool
	encryptPayload   func(session uintptr, cfg *byte, cfgLen int32, payload *byte, payloadLen int32, out *uintptr, outLen *int32) int32
	aboutModels      func(session uintptr, out *uintptr, outLen *int32)
	checkModels      func(enrollMode bool) bool
}

var _ engine.Engine = (*Library)(nil)

// Open loads the shared library at path and resolves its entry points.
func Open(path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine library %s: %w", path, err)
	}
	l := &Library{path: path, handle: handle}

	required := []struct {
		fptr interface{}
		name string
	}{
		{&l.getVersion, "privid_get_version"},
		{&l.initializeLib, "privid_initialize_lib"},
		{&l.initializeSession, "privid_initialize_session"},
		{&l.deinitializeSession, "privid_deinitialize_session"},
		{&l.freeCharBuffer, "privid_free_char_buffer"},
		{&l.userEnroll, "privid_user_enroll"},
		{&l.userPredict, "privid_user_predict"},
		{&l.docScanFront, "privid_doc_scan_front"},
		{&l.docScanBack, "privid_doc_scan_back"},
		{&l.compareEmbeddings, "privid_compare_embeddings"},
	}
	for _, sym := range required {
		if !l.bind(sym.fptr, sym.name) {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("%w: %s in %s", ErrSymbolMissing, sym.name, path)
		}
	}

	l.bind(&l.setConfiguration, "privid_set_configuration")
	l.bind(&l.encryptPayload, "privid_encrypt_payload")
	l.bind(&l.aboutModels, "privid_about_models")
	l.bind(&l.checkModels, "privid_check_models")

	return l, nil
}

// Close unloads the library. No engine call may be made afterwards.
func (l *Library) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

// Path returns the file the library was loaded from.
func (l *Library) Path() string {
	return l.path
}

func (l *Library) bind(fptr interface{}, name string) bool {
	sym, err := purego.Dlsym(l.handle, name)
	if err != nil || sym == 0 {
		return false
	}
	purego.RegisterFunc(fptr, sym)
	return true
}

// Version returns the engine version. The string is static engine memory
// and is copied, never freed.
func (l *Library) Version() string {
	return l.getVersion()
}

func (l *Library) InitializeLib(workingDir string) {
	dir := cString([]byte(workingDir))
	l.initializeLib(&dir[0], int32(len(workingDir)))
}

func (l *Library) InitializeSession(settings []byte) (engine.Handle, bool) {
	s := cString(settings)
	var session uintptr
	ok := l.initializeSession(&s[0], uint32(len(settings)), &session)
	if !ok {
		return 0, false
	}
	return engine.Handle(session), true
}

func (l *Library) DeinitializeSession(h engine.Handle) {
	l.deinitializeSession(uintptr(h))
}

func (l *Library) SetConfiguration(h engine.Handle, config []byte) bool {
	if l.setConfiguration == nil {
		return false
	}
	cfg := cString(config)
	return l.setConfiguration(uintptr(h), &cfg[0], int32(len(config)))
}

func (l *Library) UserEnroll(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return l.imageCall(l.userEnroll, h, config, image, width, height)
}

func (l *Library) UserPredict(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return l.imageCall(l.userPredict, h, config, image, width, height)
}

func (l *Library) DocScanFront(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return l.imageCall(l.docScanFront, h, config, image, width, height)
}

func (l *Library) DocScanBack(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	return l.imageCall(l.docScanBack, h, config, image, width, height)
}

func (l *Library) CompareEmbeddings(h engine.Handle, config, embeddingOne, embeddingTwo []byte) (engine.Buffer, bool) {
	cfg := cString(config)
	var out uintptr
	var outLen int32
	rc := l.compareEmbeddings(uintptr(h), &cfg[0], int32(len(config)),
		bytePtr(embeddingOne), int32(len(embeddingOne)),
		bytePtr(embeddingTwo), int32(len(embeddingTwo)),
		&out, &outLen)
	return wrapBuffer(out, outLen), rc >= 0
}

func (l *Library) EncryptPayload(h engine.Handle, config, payload []byte) (engine.Buffer, bool) {
	if l.encryptPayload == nil {
		return engine.Buffer{}, false
	}
	cfg := cString(config)
	p := cString(payload)
	var out uintptr
	var outLen int32
	rc := l.encryptPayload(uintptr(h), &cfg[0], int32(len(config)), &p[0], int32(len(payload)), &out, &outLen)
	return wrapBuffer(out, outLen), rc >= 0
}

func (l *Library) AboutModels(h engine.Handle) engine.Buffer {
	if l.aboutModels == nil {
		return engine.Buffer{}
	}
	var out uintptr
	var outLen int32
	l.aboutModels(uintptr(h), &out, &outLen)
	return wrapBuffer(out, outLen)
}

func (l *Library) CheckModels(enrollMode bool) bool {
	if l.checkModels == nil {
		return false
	}
	return l.checkModels(enrollMode)
}

// FreeCharBuffer returns an output buffer to the engine allocator.
func (l *Library) FreeCharBuffer(b engine.Buffer) {
	if b.Ref == 0 {
		return
	}
	l.freeCharBuffer(b.Ref)
}

type imageFunc func(session uintptr, cfg *byte, cfgLen int32, img *byte, w, h int32, out *uintptr, outLen *int32) int32

func (l *Library) imageCall(fn imageFunc, h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool) {
	cfg := cString(config)
	var out uintptr
	var outLen int32
	rc := fn(uintptr(h), &cfg[0], int32(len(config)), bytePtr(image), int32(width), int32(height), &out, &outLen)
	return wrapBuffer(out, outLen), rc >= 0
}

// cString copies b and appends a NUL terminator. The declared length
// passed to the engine excludes the terminator.
func cString(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

func bytePtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

// wrapBuffer builds a view over engine memory. When the engine reports no
// length the NUL-terminated extent is used.
func wrapBuffer(ptr uintptr, length int32) engine.Buffer {
	if ptr == 0 {
		return engine.Buffer{}
	}
	n := int(length)
	if n <= 0 {
		n = strlen(ptr)
	}
	// ptr is engine-owned C memory, not Go heap, and stays valid until
	// FreeCharBuffer.
	return engine.Buffer{
		Ref:  ptr,
		Data: unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n), //nolint:govet
	}
}

func strlen(ptr uintptr) int {
	n := 0
	// Engine-owned C memory; the GC never moves it.
	for n < maxNativeString && *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0 { //nolint:govet
		n++
	}
	return n
}
