// Package engine defines the boundary to the native inference engine.
//
// The engine only understands raw byte buffers, explicit lengths and
// out-parameters it allocates. Everything here mirrors that contract: a
// Handle is an opaque session reference, and a Buffer is engine-allocated
// memory that must be handed back to FreeCharBuffer exactly once.
package engine

// Native entry point names, used for logging and by test doubles.
const (
	OpGetVersion          = "get_version"
	OpInitializeLib       = "initialize_lib"
	OpInitializeSession   = "initialize_session"
	OpDeinitializeSession = "deinitialize_session"
	OpSetConfiguration    = "set_configuration"
	OpUserEnroll          = "user_enroll"
	OpUserPredict         = "user_predict"
	OpCompareEmbeddings   = "compare_embeddings"
	OpDocScanFront        = "doc_scan_front"
	OpDocScanBack         = "doc_scan_back"
	OpEncryptPayload      = "encrypt_payload"
	OpAboutModels         = "about_models"
	OpCheckModels         = "check_models"
	OpFreeCharBuffer      = "free_char_buffer"
)

// Handle is an opaque reference to engine-side session state. Zero means no handle.
type Handle uintptr

// Buffer is an output buffer allocated by the engine.
//
// Ref identifies the allocation for the engine that produced it (the native
// pointer for the shared library binding). Data is a view over that memory
// and is only valid until the buffer is released.
type Buffer struct {
	Ref  uintptr
	Data []byte
}

// IsNull reports whether the engine left the output pointer unset.
func (b Buffer) IsNull() bool {
	return b.Ref == 0 && b.Data == nil
}

// Engine is the call protocol of the native component.
//
// Input slices are borrowed for the duration of a call only. The boolean
// results carry the engine's coarse success flag; a Buffer returned alongside
// false may still be non-null and must be released all the same.
type Engine interface {
	Version() string
	InitializeLib(workingDir string)
	InitializeSession(settings []byte) (Handle, bool)
	DeinitializeSession(h Handle)
	SetConfiguration(h Handle, config []byte) bool

	UserEnroll(h Handle, config, image []byte, width, height int) (Buffer, bool)
	UserPredict(h Handle, config, image []byte, width, height int) (Buffer, bool)
	CompareEmbeddings(h Handle, config, embeddingOne, embeddingTwo []byte) (Buffer, bool)
	DocScanFront(h Handle, config, image []byte, width, height int) (Buffer, bool)
	DocScanBack(h Handle, config, image []byte, width, height int) (Buffer, bool)
	EncryptPayload(h Handle, config, payload []byte) (Buffer, bool)
	AboutModels(h Handle) Buffer
	CheckModels(enrollMode bool) bool

	FreeCharBuffer(b Buffer)
}
