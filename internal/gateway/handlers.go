package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/cryptonet"
	"github.com/menta2k/cryptonet/pkg/types"
)

type compareRequest struct {
	EmbeddingOne string `json:"embedding_one" binding:"required"`
	EmbeddingTwo string `json:"embedding_two" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The middleware
// guards every /v1 route.
func (s *Server) RegisterRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session": s.client.State().String()})
	})

	router.GET("/version", func(c *gin.Context) {
		release, err := s.acquire(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		defer release()
		c.JSON(http.StatusOK, gin.H{"version": s.client.Version()})
	})

	v1 := router.Group("/v1", middleware...)

	v1.GET("/models", func(c *gin.Context) {
		s.run(c, func() (string, error) { return s.client.AboutModels() })
	})

	v1.POST("/enroll", func(c *gin.Context) {
		cfg := types.NewEnrollConfig()
		img, ok := s.readRequest(c, &cfg)
		if !ok {
			return
		}
		s.run(c, func() (string, error) { return s.client.Enroll(img, cfg) })
	})

	v1.POST("/predict", func(c *gin.Context) {
		cfg := types.NewPredictConfig()
		img, ok := s.readRequest(c, &cfg)
		if !ok {
			return
		}
		s.run(c, func() (string, error) { return s.client.Predict(img, cfg) })
	})

	v1.POST("/document/front", func(c *gin.Context) {
		cfg := types.NewDocumentFrontScanConfig()
		img, ok := s.readRequest(c, &cfg)
		if !ok {
			return
		}
		s.run(c, func() (string, error) {
			result, err := s.client.FrontDocumentScan(img, cfg)
			if err != nil {
				return "", err
			}
			return result.Text, nil
		})
	})

	v1.POST("/document/back", func(c *gin.Context) {
		cfg := types.NewDocumentBackScanConfig()
		img, ok := s.readRequest(c, &cfg)
		if !ok {
			return
		}
		s.run(c, func() (string, error) {
			result, err := s.client.BackDocumentScan(img, cfg)
			if err != nil {
				return "", err
			}
			return result.Text, nil
		})
	})

	v1.POST("/compare", func(c *gin.Context) {
		var req compareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "embedding_one and embedding_two are required"})
			return
		}
		s.run(c, func() (string, error) {
			return s.client.CompareEmbeddings([]byte(req.EmbeddingOne), []byte(req.EmbeddingTwo))
		})
	})

	v1.POST("/encrypt", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.options.MaxUploadBytes)
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.rejectBody(c, err)
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
			return
		}
		s.run(c, func() (string, error) { return s.client.EncryptPayload(data) })
	})
}

// run executes op while holding the engine slot and writes its result.
func (s *Server) run(c *gin.Context, op func() (string, error)) {
	release, err := s.acquire(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	text, err := op()
	release()

	if err != nil {
		writeError(c, err)
		return
	}
	writeResult(c, text)
}

// writeResult passes JSON engine output through unchanged and wraps any
// other text in a result object.
func writeResult(c *gin.Context, text string) {
	if json.Valid([]byte(text)) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(text))
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": text})
}

// readRequest decodes the multipart image and merges the optional config
// field over the defaulted record. It writes the error response itself.
func (s *Server) readRequest(c *gin.Context, record interface{}) (image.Image, bool) {
	if c.Request.ContentLength > s.options.MaxUploadBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return nil, false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.options.MaxUploadBytes)

	file, err := c.FormFile("image")
	if err != nil {
		s.rejectBody(c, err)
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return nil, false
	}

	if !isImageType(file.Header.Get("Content-Type"), data) {
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return nil, false
	}

	if raw := c.PostForm("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), record); err != nil {
			writeError(c, fmt.Errorf("%w: config: %v", cryptonet.ErrEncodingFailed, err))
			return nil, false
		}
	}

	img, err := s.loader.DecodeBytes(data)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return img, true
}

func (s *Server) rejectBody(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
}

// isImageType accepts a declared image/* type, or sniffs the payload when
// the client sent none.
func isImageType(declared string, data []byte) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" || declared == "application/octet-stream" {
		declared = http.DetectContentType(data)
	}
	return strings.HasPrefix(declared, "image/")
}
