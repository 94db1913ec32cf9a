package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/cryptonet"
	"github.com/menta2k/cryptonet/pkg/engine"
	"github.com/menta2k/cryptonet/pkg/engine/enginetest"
)

func newTestServer(t *testing.T, options Options) (*Server, *enginetest.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := enginetest.New()
	client := cryptonet.New(eng)
	if err := client.InitializeSession([]byte(`{}`)); err != nil {
		t.Fatalf("InitializeSession failed: %v", err)
	}
	return New(client, nil, options, nil), eng
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, config string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if config != "" {
		if err := writer.WriteField("config", config); err != nil {
			t.Fatalf("failed to write config field: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func postImage(t *testing.T, router http.Handler, path, contentType string, payload []byte, config string) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := buildMultipartBody(t, contentType, payload, config)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", formType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"session":"active"`) {
		t.Errorf("unexpected body %s", resp.Body.String())
	}
}

func TestVersion(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/version", nil))

	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "stub-1.0.0") {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}
}

func TestEnroll(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	eng.Respond(engine.OpUserEnroll, []byte(`{"puid":"p-9"}`))

	resp := postImage(t, srv.Router(), "/v1/enroll", "image/png", encodePNG(t), `{"skip_antispoof":false}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != `{"puid":"p-9"}` {
		t.Errorf("expected engine JSON passed through, got %s", resp.Body.String())
	}

	call, _ := eng.LastCall(engine.OpUserEnroll)
	var cfg map[string]interface{}
	if err := json.Unmarshal(call.Config, &cfg); err != nil {
		t.Fatalf("config is not JSON: %v", err)
	}
	if cfg["skip_antispoof"] != false {
		t.Errorf("config override not applied: %s", call.Config)
	}
	if cfg["threshold_user_too_far"] != 0.31 {
		t.Errorf("defaults must survive a partial override: %s", call.Config)
	}
	if eng.Live() != 0 {
		t.Errorf("expected no live buffers, got %d", eng.Live())
	}
}

func TestBackDocumentScan(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	eng.Respond(engine.OpDocScanBack, []byte("{\"doc\":\"X\"}),\x00\x01"))

	resp := postImage(t, srv.Router(), "/v1/document/back", "image/png", encodePNG(t), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != `{"doc":"X"}` {
		t.Errorf("unexpected body %s", resp.Body.String())
	}
}

func TestNonJSONResultIsWrapped(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	eng.Respond(engine.OpDocScanFront, []byte("plain text"))

	resp := postImage(t, srv.Router(), "/v1/document/front", "image/png", encodePNG(t), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != `{"result":"plain text"}` {
		t.Errorf("unexpected body %s", resp.Body.String())
	}
}

func TestRejectsLargeUpload(t *testing.T) {
	srv, eng := newTestServer(t, Options{MaxUploadBytes: 1024})

	resp := postImage(t, srv.Router(), "/v1/predict", "image/png", bytes.Repeat([]byte("a"), 2048), "")
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if eng.CallCount(engine.OpUserPredict) != 0 {
		t.Error("engine must not be called")
	}
}

func TestRejectsUnsupportedContentType(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := postImage(t, srv.Router(), "/v1/enroll", "text/plain", []byte("hello"), "")
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Server, *enginetest.Engine)
		payload func(*testing.T) []byte
		config  string
		want    int
	}{
		{
			name:    "engine failure",
			setup:   func(_ *Server, e *enginetest.Engine) { e.Fail(engine.OpUserPredict) },
			payload: encodePNG,
			want:    http.StatusBadGateway,
		},
		{
			name:    "no session",
			setup:   func(s *Server, _ *enginetest.Engine) { _ = s.client.DeinitializeSession() },
			payload: encodePNG,
			want:    http.StatusServiceUnavailable,
		},
		{
			name:    "undecodable image",
			setup:   func(*Server, *enginetest.Engine) {},
			payload: func(*testing.T) []byte { return []byte("not really a png") },
			want:    http.StatusUnprocessableEntity,
		},
		{
			name:    "bad config",
			setup:   func(*Server, *enginetest.Engine) {},
			payload: encodePNG,
			config:  "{",
			want:    http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, eng := newTestServer(t, Options{})
			tt.setup(srv, eng)

			resp := postImage(t, srv.Router(), "/v1/predict", "image/png", tt.payload(t), tt.config)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
			if !strings.Contains(resp.Body.String(), `"error"`) {
				t.Errorf("expected error body, got %s", resp.Body.String())
			}
		})
	}
}

func TestCompare(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	eng.Respond(engine.OpCompareEmbeddings, []byte(`{"score":1.0}`))
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/compare", strings.NewReader(`{"embedding_one":"AAA","embedding_two":"BBB"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || resp.Body.String() != `{"score":1.0}` {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}
	call, _ := eng.LastCall(engine.OpCompareEmbeddings)
	if string(call.Input) != "AAA" || string(call.Second) != "BBB" {
		t.Errorf("unexpected embeddings %q %q", call.Input, call.Second)
	}

	bad := httptest.NewRequest(http.MethodPost, "/v1/compare", strings.NewReader(`{"embedding_one":"AAA"}`))
	bad.Header.Set("Content-Type", "application/json")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, bad)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.Code)
	}
}

func TestEncryptAndModels(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	eng.Respond(engine.OpEncryptPayload, []byte(`{"cipher":"c"}`))
	eng.Respond(engine.OpAboutModels, []byte(`{"models":["face"]}`))
	router := srv.Router()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/v1/encrypt", strings.NewReader(`{"x":1}`)))
	if resp.Code != http.StatusOK || resp.Body.String() != `{"cipher":"c"}` {
		t.Fatalf("unexpected encrypt response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/v1/encrypt", strings.NewReader("")))
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty payload, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != `{"models":["face"]}` {
		t.Fatalf("unexpected models response %d %s", resp.Code, resp.Body.String())
	}
}

func TestBusyRequestGivesUp(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	router := srv.Router()

	release, err := srv.acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if eng.CallCount(engine.OpAboutModels) != 0 {
		t.Error("engine must not be called while the slot is held")
	}
}
