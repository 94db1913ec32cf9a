// Package cryptonet is a client for the privid biometric inference engine.
//
// It canonicalizes images, encodes operation configs, drives the engine's
// raw-buffer call protocol and decodes the engine's text responses.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		"github.com/menta2k/cryptonet"
//		"github.com/menta2k/cryptonet/pkg/canonical"
//		"github.com/menta2k/cryptonet/pkg/native"
//		"github.com/menta2k/cryptonet/pkg/types"
//	)
//
//	func main() {
//		lib, err := native.Open("/opt/privid/libprivid_fhe.so")
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer lib.Close()
//
//		client := cryptonet.New(lib)
//		client.InitializeLib("/var/lib/privid")
//		if err := client.InitializeSession([]byte(`{}`)); err != nil {
//			log.Fatal(err)
//		}
//		defer client.DeinitializeSession()
//
//		img, err := canonical.NewLoader().LoadImage("selfie.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		result, err := client.Enroll(img, types.NewEnrollConfig())
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(result)
//	}
//
// The package consists of these components:
//
// 1. Canonicalizer (pkg/canonical): resizes any image to a 1000x1000 RGBA buffer
// 2. Encoder (pkg/payload): serializes config records to JSON
// 3. Bridge (pkg/bridge): invokes the engine and releases every output buffer once
// 4. Session (pkg/session): owns the engine handle and its lifecycle
// 5. Decoder (pkg/response): turns output buffers into text
//
// A Client is not safe for concurrent use. Keep at most one call in flight
// per Client; distinct Clients may run in parallel.
package cryptonet

import (
	"image"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/cryptonet/internal/logging"
	"github.com/menta2k/cryptonet/pkg/bridge"
	"github.com/menta2k/cryptonet/pkg/canonical"
	"github.com/menta2k/cryptonet/pkg/engine"
	"github.com/menta2k/cryptonet/pkg/payload"
	"github.com/menta2k/cryptonet/pkg/response"
	"github.com/menta2k/cryptonet/pkg/session"
	"github.com/menta2k/cryptonet/pkg/types"
)

// ScanResult is the outcome of a document scan. The image fields are
// reserved for cropped document and mugshot images and are nil until the
// engine exposes them.
type ScanResult struct {
	Text          string      `json:"text"`
	DocumentImage image.Image `json:"-"`
	MugshotImage  image.Image `json:"-"`
}

// Client runs engine operations against a single session.
type Client struct {
	engine        engine.Engine
	session       *session.Session
	bridge        *bridge.Adapter
	canonicalizer *canonical.Canonicalizer
	logger        *zap.Logger
}

// imageCall matches the engine's image-consuming entry points.
type imageCall func(h engine.Handle, config, image []byte, width, height int) (engine.Buffer, bool)

// New creates a Client with default canonicalization and no logging.
func New(eng engine.Engine) *Client {
	return NewWithConfig(eng, canonical.New(), nil)
}

// NewWithLogger creates a Client with default canonicalization that logs to logger.
func NewWithLogger(eng engine.Engine, logger *zap.Logger) *Client {
	return NewWithConfig(eng, canonical.New(), logger)
}

// NewWithConfig creates a Client with a custom canonicalizer and logger.
func NewWithConfig(eng engine.Engine, canonicalizer *canonical.Canonicalizer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if canonicalizer == nil {
		canonicalizer = canonical.New()
	}
	return &Client{
		engine:        eng,
		session:       session.New(eng, logger),
		bridge:        bridge.New(eng, logger),
		canonicalizer: canonicalizer,
		logger:        logger,
	}
}

// Version returns the engine version. No session is required.
func (c *Client) Version() string {
	return c.engine.Version()
}

// InitializeLib performs the engine's process-wide setup. It must run once
// before the first session is initialized.
func (c *Client) InitializeLib(workingDir string) {
	c.logger.Info("initializing engine library", zap.String("working_dir", workingDir))
	c.engine.InitializeLib(workingDir)
}

// InitializeSession opens a session with the given settings payload.
func (c *Client) InitializeSession(settings []byte) error {
	return logging.NewOperationError("cryptonet.initialize_session", "", logging.StageSession, c.session.Initialize(settings))
}

// DeinitializeSession closes the active session.
func (c *Client) DeinitializeSession() error {
	return logging.NewOperationError("cryptonet.deinitialize_session", "", logging.StageSession, c.session.Deinitialize())
}

// State returns the session lifecycle state.
func (c *Client) State() session.State {
	return c.session.State()
}

// Stats returns buffer protocol counters.
func (c *Client) Stats() bridge.Stats {
	return c.bridge.Stats()
}

// Enroll enrolls the user shown in img.
func (c *Client) Enroll(img image.Image, config types.EnrollConfig) (string, error) {
	return c.runImage("cryptonet.enroll", engine.OpUserEnroll, img, config, c.engine.UserEnroll, response.Decode)
}

// Predict identifies the user shown in img.
func (c *Client) Predict(img image.Image, config types.PredictConfig) (string, error) {
	return c.runImage("cryptonet.predict", engine.OpUserPredict, img, config, c.engine.UserPredict, response.Decode)
}

// FrontDocumentScan scans the front of an identity document.
func (c *Client) FrontDocumentScan(img image.Image, config types.DocumentFrontScanConfig) (*ScanResult, error) {
	text, err := c.runImage("cryptonet.front_document_scan", engine.OpDocScanFront, img, config, c.engine.DocScanFront, response.Decode)
	if err != nil {
		return nil, err
	}
	return &ScanResult{Text: text}, nil
}

// BackDocumentScan scans the barcode side of an identity document. The
// trailing segment the engine appends after the barcode payload is dropped.
func (c *Client) BackDocumentScan(img image.Image, config types.DocumentBackScanConfig) (*ScanResult, error) {
	text, err := c.runImage("cryptonet.back_document_scan", engine.OpDocScanBack, img, config, c.engine.DocScanBack, response.DecodeBarcode)
	if err != nil {
		return nil, err
	}
	return &ScanResult{Text: text}, nil
}

// CompareEmbeddings compares two embeddings previously returned by the
// engine. The bytes are passed through unchanged.
func (c *Client) CompareEmbeddings(embeddingOne, embeddingTwo []byte) (string, error) {
	const name = "cryptonet.compare_embeddings"
	callID := uuid.NewString()
	log := logging.WithOperation(c.logger, name, callID)

	h, err := c.session.Handle()
	if err != nil {
		return "", logging.NewOperationError(name, callID, logging.StageSession, err)
	}
	cfg := payload.Empty()

	text, err := c.bridge.Invoke(engine.OpCompareEmbeddings, func() (engine.Buffer, bool) {
		return c.engine.CompareEmbeddings(h, cfg, embeddingOne, embeddingTwo)
	}, response.Decode)
	if err != nil {
		log.Warn("operation failed", zap.Error(err))
		return "", logging.NewOperationError(name, callID, logging.StageEngine, err)
	}
	log.Debug("operation completed",
		zap.Int("embedding_one_bytes", len(embeddingOne)),
		zap.Int("embedding_two_bytes", len(embeddingTwo)),
		zap.Int("result_bytes", len(text)))
	return text, nil
}

// SetConfiguration applies a session-wide configuration record.
func (c *Client) SetConfiguration(record interface{}) error {
	const name = "cryptonet.set_configuration"
	callID := uuid.NewString()

	h, err := c.session.Handle()
	if err != nil {
		return logging.NewOperationError(name, callID, logging.StageSession, err)
	}
	cfg, err := payload.Encode(record)
	if err != nil {
		return logging.NewOperationError(name, callID, logging.StageEncode, err)
	}
	if !c.engine.SetConfiguration(h, cfg) {
		logging.WithOperation(c.logger, name, callID).Warn("engine rejected configuration",
			zap.Int("config_bytes", len(cfg)))
		return logging.NewOperationError(name, callID, logging.StageEngine, ErrConfigurationRejected)
	}
	return nil
}

// EncryptPayload encrypts data with the session's keys.
func (c *Client) EncryptPayload(data []byte) (string, error) {
	const name = "cryptonet.encrypt_payload"
	callID := uuid.NewString()

	h, err := c.session.Handle()
	if err != nil {
		return "", logging.NewOperationError(name, callID, logging.StageSession, err)
	}
	cfg := payload.Empty()
	text, err := c.bridge.Invoke(engine.OpEncryptPayload, func() (engine.Buffer, bool) {
		return c.engine.EncryptPayload(h, cfg, data)
	}, response.Decode)
	if err != nil {
		logging.WithOperation(c.logger, name, callID).Warn("operation failed", zap.Error(err))
		return "", logging.NewOperationError(name, callID, logging.StageEngine, err)
	}
	return text, nil
}

// AboutModels describes the models loaded by the session.
func (c *Client) AboutModels() (string, error) {
	const name = "cryptonet.about_models"
	callID := uuid.NewString()

	h, err := c.session.Handle()
	if err != nil {
		return "", logging.NewOperationError(name, callID, logging.StageSession, err)
	}
	text, err := c.bridge.Invoke(engine.OpAboutModels, func() (engine.Buffer, bool) {
		return c.engine.AboutModels(h), true
	}, response.Decode)
	if err != nil {
		return "", logging.NewOperationError(name, callID, logging.StageEngine, err)
	}
	return text, nil
}

// CheckModels reports whether the models needed for enrollment (or
// prediction when enrollMode is false) are present. No session is required.
func (c *Client) CheckModels(enrollMode bool) error {
	if !c.engine.CheckModels(enrollMode) {
		return logging.NewOperationError("cryptonet.check_models", "", logging.StageEngine, ErrModelsUnavailable)
	}
	return nil
}

func (c *Client) runImage(name, op string, img image.Image, record interface{}, call imageCall, decode response.Decoder) (string, error) {
	callID := uuid.NewString()
	log := logging.WithOperation(c.logger, name, callID)

	h, err := c.session.Handle()
	if err != nil {
		return "", logging.NewOperationError(name, callID, logging.StageSession, err)
	}

	buf, err := c.canonicalizer.Canonicalize(img)
	if err != nil {
		log.Warn("image canonicalization failed", zap.Error(err))
		return "", logging.NewOperationError(name, callID, logging.StageCanonicalize, err)
	}

	cfg, err := payload.Encode(record)
	if err != nil {
		return "", logging.NewOperationError(name, callID, logging.StageEncode, err)
	}

	text, err := c.bridge.Invoke(op, func() (engine.Buffer, bool) {
		return call(h, cfg, buf.Pix, buf.Width, buf.Height)
	}, decode)
	if err != nil {
		log.Warn("operation failed", zap.Error(err))
		return "", logging.NewOperationError(name, callID, logging.StageEngine, err)
	}

	log.Debug("operation completed",
		zap.Int("image_bytes", buf.Len()),
		zap.Int("config_bytes", len(cfg)),
		zap.Int("result_bytes", len(text)))
	return text, nil
}
