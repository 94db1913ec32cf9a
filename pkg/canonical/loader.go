package canonical

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "github.com/spakin/netpbm"
	_ "golang.org/x/image/webp"
)

// LoaderConfig holds configuration for source image loading.
type LoaderConfig struct {
	HTTPTimeout  time.Duration
	MaxBytes     int64
	MinImageSize int
	UserAgent    string
}

// Loader decodes source images from files, readers and URLs.
type Loader struct {
	config LoaderConfig
	client *http.Client
}

// ImageInfo contains basic image metadata.
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// NewLoader creates a Loader with default configuration.
func NewLoader() *Loader {
	return NewLoaderWithConfig(LoaderConfig{
		HTTPTimeout:  30 * time.Second,
		MaxBytes:     20 << 20,
		MinImageSize: 1,
		UserAgent:    "cryptonet/1.0",
	})
}

// NewLoaderWithConfig creates a Loader with custom configuration.
func NewLoaderWithConfig(config LoaderConfig) *Loader {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}
	if config.MinImageSize <= 0 {
		config.MinImageSize = 1
	}
	return &Loader{
		config: config,
		client: &http.Client{Timeout: config.HTTPTimeout},
	}
}

// LoadImage loads an image from a file path.
func (l *Loader) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image file: %v", ErrImageProcessingFailed, err)
	}
	return l.DecodeBytes(data)
}

// LoadImageFromReader loads an image from an io.Reader.
func (l *Loader) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	if l.config.MaxBytes > 0 {
		reader = io.LimitReader(reader, l.config.MaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image data: %v", ErrImageProcessingFailed, err)
	}
	return l.DecodeBytes(data)
}

// LoadImageFromURL downloads and decodes an image.
func (l *Loader) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrImageProcessingFailed, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported URL scheme: %s (only http and https are supported)",
			ErrImageProcessingFailed, parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrImageProcessingFailed, err)
	}
	if l.config.UserAgent != "" {
		req.Header.Set("User-Agent", l.config.UserAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download image: %v", ErrImageProcessingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: failed to download image: HTTP %d", ErrImageProcessingFailed, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: URL does not point to an image (Content-Type: %s)",
			ErrImageProcessingFailed, contentType)
	}

	return l.LoadImageFromReader(resp.Body)
}

// LoadImageSmart loads an image from either a file path or URL.
func (l *Loader) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.LoadImageFromURL(ctx, source)
	}
	return l.LoadImage(source)
}

// DecodeBytes decodes an encoded image. Registered decoders are tried first,
// then the WebP decoder. EXIF orientation is not applied.
func (l *Loader) DecodeBytes(data []byte) (image.Image, error) {
	if l.config.MaxBytes > 0 && int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrImageProcessingFailed, l.config.MaxBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		webpImg, webpErr := webp.Decode(bytes.NewReader(data))
		if webpErr != nil {
			return nil, fmt.Errorf("%w: unknown or unsupported format: %v", ErrImageProcessingFailed, err)
		}
		img = webpImg
	}

	if err := l.ValidateImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// GetImageInfo returns basic information about an image.
func (l *Loader) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage checks that an image meets the minimum size.
func (l *Loader) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < l.config.MinImageSize || bounds.Dy() < l.config.MinImageSize {
		return fmt.Errorf("%w: image too small: %dx%d (minimum: %d)",
			ErrImageProcessingFailed, bounds.Dx(), bounds.Dy(), l.config.MinImageSize)
	}
	return nil
}
