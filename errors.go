package cryptonet

import (
	"errors"

	"github.com/menta2k/cryptonet/pkg/canonical"
	"github.com/menta2k/cryptonet/pkg/payload"
	"github.com/menta2k/cryptonet/pkg/response"
	"github.com/menta2k/cryptonet/pkg/session"
)

// Errors returned by Client operations. Match them with errors.Is.
var (
	ErrNoActiveSession       = session.ErrNoActiveSession
	ErrSessionActive         = session.ErrSessionActive
	ErrInitializationFailed  = session.ErrInitializationFailed
	ErrImageProcessingFailed = canonical.ErrImageProcessingFailed
	ErrEncodingFailed        = payload.ErrEncodingFailed
	ErrNoPayload             = response.ErrNoPayload

	// ErrConfigurationRejected is returned when the engine refuses a session configuration.
	ErrConfigurationRejected = errors.New("configuration rejected")
	// ErrModelsUnavailable is returned by CheckModels when the engine reports missing models.
	ErrModelsUnavailable = errors.New("models unavailable")
)
