// Package gateway exposes a cryptonet Client over HTTP.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/cryptonet"
	"github.com/menta2k/cryptonet/internal/logging"
	"github.com/menta2k/cryptonet/pkg/canonical"
)

// DefaultMaxUploadBytes bounds multipart image uploads.
const DefaultMaxUploadBytes int64 = 10 << 20

// ErrBusy is returned when a request gives up waiting for the engine.
var ErrBusy = errors.New("engine busy")

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
	AuthSecret     string
	AuthAudience   string
}

// Server serializes HTTP requests onto a single cryptonet Client.
type Server struct {
	client  *cryptonet.Client
	loader  *canonical.Loader
	logger  *zap.Logger
	options Options
	// slot holds one token while an engine call is in flight.
	slot chan struct{}
}

// New creates a gateway over client. Images are decoded with loader.
func New(client *cryptonet.Client, loader *canonical.Loader, options Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = canonical.NewLoader()
	}
	if options.MaxUploadBytes <= 0 {
		options.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		client:  client,
		loader:  loader,
		logger:  logger.Named("gateway"),
		options: options,
		slot:    make(chan struct{}, 1),
	}
}

// Router builds the gin engine serving every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.MaxMultipartMemory = s.options.MaxUploadBytes

	var middleware []gin.HandlerFunc
	if s.options.AuthSecret != "" {
		middleware = append(middleware, JWTMiddleware(s.options.AuthSecret, s.options.AuthAudience))
	}
	s.RegisterRoutes(router, middleware...)
	return router
}

// acquire waits for the engine slot. The returned func releases it.
func (s *Server) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	case <-ctx.Done():
		return nil, ErrBusy
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if subject, ok := GetSubject(c.Request.Context()); ok {
			fields = append(fields, zap.String("subject", subject))
		}
		if last := c.Errors.Last(); last != nil {
			var opErr *logging.OperationError
			if errors.As(last.Err, &opErr) {
				fields = append(fields, zap.Object("failure", opErr))
			} else {
				fields = append(fields, zap.Error(last.Err))
			}
		}
		s.logger.Info("request", fields...)
	}
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, cryptonet.ErrNoActiveSession):
		return http.StatusServiceUnavailable
	case errors.Is(err, cryptonet.ErrImageProcessingFailed),
		errors.Is(err, cryptonet.ErrConfigurationRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cryptonet.ErrEncodingFailed):
		return http.StatusBadRequest
	case errors.Is(err, cryptonet.ErrNoPayload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	var opErr *logging.OperationError
	if errors.As(err, &opErr) && opErr.CallID != "" {
		body["call_id"] = opErr.CallID
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}
