// Package types holds the per-operation configuration records sent to the
// engine. Field tags carry the engine's external key names and defaults.
package types

import defaults "github.com/mcuadros/go-defaults"

// DefaultImageFormat is the pixel layout of canonical image buffers.
const DefaultImageFormat = "rgba"

// EnrollConfig configures a user enrollment.
type EnrollConfig struct {
	ImageFormat            string  `json:"input_image_format" toml:"input_image_format" default:"rgba"`
	MfToken                *string `json:"mf_token,omitempty" toml:"mf_token"`
	SkipAntispoof          bool    `json:"skip_antispoof" toml:"skip_antispoof" default:"true"`
	DisableEnrollMF        bool    `json:"disable_enroll_mf" toml:"disable_enroll_mf" default:"false"`
	ThresholdUserTooFar    float64 `json:"threshold_user_too_far" toml:"threshold_user_too_far" default:"0.31"`
	ThresholdUserTooClose  float64 `json:"threshold_user_too_close" toml:"threshold_user_too_close" default:"0.55"`
	ThresholdUserRight     float64 `json:"threshold_user_right" toml:"threshold_user_right" default:"0.2"`
	ThresholdUserLeft      float64 `json:"threshold_user_left" toml:"threshold_user_left" default:"0.8"`
	ThresholdProfileEnroll float64 `json:"threshold_profile_enroll" toml:"threshold_profile_enroll" default:"0.66"`
}

// PredictConfig configures a user prediction.
type PredictConfig struct {
	ImageFormat                  string  `json:"input_image_format" toml:"input_image_format" default:"rgba"`
	SkipAntispoof                bool    `json:"skip_antispoof" toml:"skip_antispoof" default:"true"`
	MfToken                      *string `json:"mf_token,omitempty" toml:"mf_token"`
	AntiSpoofingThreshold        float64 `json:"anti_spoofing_threshold" toml:"anti_spoofing_threshold" default:"0.75"`
	ThresholdUserTooClose        float64 `json:"threshold_user_too_close" toml:"threshold_user_too_close" default:"0.8"`
	ThresholdUserTooFar          float64 `json:"threshold_user_too_far" toml:"threshold_user_too_far" default:"0.1"`
	ThresholdUserRight           float64 `json:"threshold_user_right" toml:"threshold_user_right" default:"0.01"`
	ThresholdUserLeft            float64 `json:"threshold_user_left" toml:"threshold_user_left" default:"0.99"`
	ThresholdDownVerticalPredict float64 `json:"threshold_down_vertical_predict" toml:"threshold_down_vertical_predict" default:"0.7"`
	ThresholdHighVerticalPredict float64 `json:"threshold_high_vertical_predict" toml:"threshold_high_vertical_predict" default:"-0.1"`
	ThresholdProfilePredict      float64 `json:"threshold_profile_predict" toml:"threshold_profile_predict" default:"0.7"`
	MfCountOverride              float64 `json:"mf_count_override" toml:"mf_count_override" default:"3"`
	DisablePredictMF             bool    `json:"disable_predict_mf" toml:"disable_predict_mf" default:"false"`
}

// DocumentFrontScanConfig configures a front-of-document scan.
type DocumentFrontScanConfig struct {
	ImageFormat   string `json:"input_image_format" toml:"input_image_format" default:"rgba"`
	SkipAntispoof bool   `json:"skip_antispoof" toml:"skip_antispoof" default:"true"`
}

// DocumentBackScanConfig configures a back-of-document (barcode) scan.
type DocumentBackScanConfig struct {
	ImageFormat             string `json:"input_image_format" toml:"input_image_format" default:"rgba"`
	SkipAntispoof           bool   `json:"skip_antispoof" toml:"skip_antispoof" default:"true"`
	DocumentScanBarcodeOnly bool   `json:"document_scan_barcode_only" toml:"document_scan_barcode_only" default:"true"`
}

// NewEnrollConfig returns an EnrollConfig with every default applied.
func NewEnrollConfig() EnrollConfig {
	var c EnrollConfig
	defaults.SetDefaults(&c)
	// mf_token is only sent once a token is set.
	c.MfToken = nil
	return c
}

// NewPredictConfig returns a PredictConfig with every default applied.
func NewPredictConfig() PredictConfig {
	var c PredictConfig
	defaults.SetDefaults(&c)
	// mf_token is only sent once a token is set.
	c.MfToken = nil
	return c
}

// NewDocumentFrontScanConfig returns a DocumentFrontScanConfig with every default applied.
func NewDocumentFrontScanConfig() DocumentFrontScanConfig {
	var c DocumentFrontScanConfig
	defaults.SetDefaults(&c)
	return c
}

// NewDocumentBackScanConfig returns a DocumentBackScanConfig with every default applied.
func NewDocumentBackScanConfig() DocumentBackScanConfig {
	var c DocumentBackScanConfig
	defaults.SetDefaults(&c)
	return c
}

// WithMfToken returns a copy of c carrying the multi-frame token.
func (c EnrollConfig) WithMfToken(token string) EnrollConfig {
	c.MfToken = &token
	return c
}

// WithMfToken returns a copy of c carrying the multi-frame token.
func (c PredictConfig) WithMfToken(token string) PredictConfig {
	c.MfToken = &token
	return c
}
