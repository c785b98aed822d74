package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/sketchline/apperr"
	"github.com/krau/sketchline/config"
	"github.com/krau/sketchline/dialogue"
	"github.com/krau/sketchline/hed"
	"github.com/krau/sketchline/story"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct{}

func (fakeEngine) State() hed.State { return hed.Ready }
func (fakeEngine) Close() error     { return nil }

type fakeDrawer struct {
	out   string
	err   error
	panic bool
}

func (d *fakeDrawer) Process(string) (string, error) {
	if d.panic {
		panic("malformed output tensor")
	}
	return d.out, d.err
}

type fakeDialogue struct {
	mu   sync.Mutex
	line string
	err  error
	got  []dialogue.Request
}

func (f *fakeDialogue) Generate(_ context.Context, req dialogue.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.line, f.err
}

func testServer(d Drawer, g DialogueGenerator) *Server {
	cfg := config.Default()
	cfg.OpenAIKey = "sk-test"
	return newServer(cfg, fakeEngine{}, d, g, story.New(0))
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestProcessLineDrawingMissingImage(t *testing.T) {
	s := testServer(&fakeDrawer{out: "png"}, &fakeDialogue{})
	for _, body := range []string{`{}`, `{"image": ""}`, ``, `not json`} {
		rec, out := do(t, s, http.MethodPost, "/process-line-drawing", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, false, out["success"], body)
		assert.NotEmpty(t, out["error"], body)
	}
	rec, out := do(t, s, http.MethodPost, "/process-line-drawing", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No image data received", out["error"])
}

func TestProcessLineDrawing(t *testing.T) {
	s := testServer(&fakeDrawer{out: "iVBORw0KGgo="}, &fakeDialogue{})

	rec, out := do(t, s, http.MethodPost, "/process-line-drawing", `{"image": "data:image/png;base64,AAAA", "detail_level": "high"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{"iVBORw0KGgo="}, out["images"])
	assert.Equal(t, float64(1), out["counter"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	_, out = do(t, s, http.MethodPost, "/process-line-drawing", `{"image": "AAAA"}`)
	assert.Equal(t, float64(2), out["counter"])
}

func TestProcessLineDrawingErrors(t *testing.T) {
	decodeErr := apperr.Errorf(apperr.Decode, "pixel.Decode", "invalid base64 image data")
	rec, out := do(t, testServer(&fakeDrawer{err: decodeErr}, &fakeDialogue{}),
		http.MethodPost, "/process-line-drawing", `{"image": "???"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])

	pipeErr := apperr.E(apperr.Pipeline, "hed.Infer", errors.New("forward failed"))
	s := testServer(&fakeDrawer{err: pipeErr}, &fakeDialogue{})
	rec, out = do(t, s, http.MethodPost, "/process-line-drawing", `{"image": "AAAA"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "forward failed")
	assert.Equal(t, 0, s.story.Counter())
}

func TestPanicBecomesJSON500(t *testing.T) {
	s := testServer(&fakeDrawer{panic: true}, &fakeDialogue{})
	rec, out := do(t, s, http.MethodPost, "/process-line-drawing", `{"image": "AAAA"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, out["success"])
}

func TestOptionsPreflight(t *testing.T) {
	s := testServer(&fakeDrawer{}, &fakeDialogue{})
	for _, path := range []string{"/process-line-drawing", "/generate-dialogue", "/reset-story"} {
		rec, _ := do(t, s, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.String())
	}
}

func TestCORSHeaders(t *testing.T) {
	s := testServer(&fakeDrawer{}, &fakeDialogue{})

	preflight := func(requestHeaders string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/generate-dialogue", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", requestHeaders)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	// Browsers send request header names lowercased.
	rec := preflight("content-type")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	// rs/cors compares the header list verbatim and rejects other casings.
	rec = preflight("Content-Type")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGenerateDialogue(t *testing.T) {
	gen := &fakeDialogue{line: "Is that a dragon on your shoulder?"}
	s := testServer(&fakeDrawer{}, gen)

	rec, out := do(t, s, http.MethodPost, "/generate-dialogue",
		`{"image": "data:image/jpeg;base64,AAAA", "previousDialogue": "Hello", "position": {"x": 0.2, "y": 0.9}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Is that a dragon on your shoulder?", out["dialogue"])

	require.Len(t, gen.got, 1)
	assert.Equal(t, "Hello", gen.got[0].PreviousDialogue)
	assert.Equal(t, dialogue.Position{X: 0.2, Y: 0.9}, gen.got[0].Position)

	_, _ = do(t, s, http.MethodPost, "/generate-dialogue", `{"image": "AAAA"}`)
	require.Len(t, gen.got, 2)
	assert.Equal(t, dialogue.DefaultPosition, gen.got[1].Position)

	rec, _ = do(t, s, http.MethodPost, "/generate-dialogue", `{"image": "AAAA", "position": {"x": 3, "y": 0}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, gen.got, 3)
	assert.Equal(t, dialogue.Position{X: 3, Y: 0}, gen.got[2].Position)

	_, out = do(t, s, http.MethodGet, "/story", "")
	assert.Len(t, out["stories"], 3)
}

func TestGenerateDialogueErrors(t *testing.T) {
	gen := &fakeDialogue{}
	s := testServer(&fakeDrawer{}, gen)

	rec, out := do(t, s, http.MethodPost, "/generate-dialogue", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])

	gen.err = apperr.Errorf(apperr.DialogueRequest, "dialogue.Generate", "rate limited")
	rec, out = do(t, s, http.MethodPost, "/generate-dialogue", `{"image": "AAAA"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "rate limited")
}

func TestResetAndStory(t *testing.T) {
	s := testServer(&fakeDrawer{out: "png"}, &fakeDialogue{line: "Hi."})
	do(t, s, http.MethodPost, "/process-line-drawing", `{"image": "AAAA"}`)
	do(t, s, http.MethodPost, "/generate-dialogue", `{"image": "AAAA"}`)

	_, out := do(t, s, http.MethodGet, "/story", "")
	assert.Equal(t, float64(1), out["counter"])
	assert.Equal(t, []any{"Hi."}, out["stories"])

	rec, out := do(t, s, http.MethodPost, "/reset-story", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(0), out["counter"])

	_, out = do(t, s, http.MethodGet, "/story", "")
	assert.Equal(t, float64(0), out["counter"])
	assert.Equal(t, []any{}, out["stories"])
}

func TestHealth(t *testing.T) {
	rec, out := do(t, testServer(&fakeDrawer{}, &fakeDialogue{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "ready", out["engine"])
}

func TestNewFailsWithoutArtifacts(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAIKey = "sk-test"
	cfg.ModelDir = t.TempDir()
	s, err := New(cfg)
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ModelLoad))
}

func TestNewFailsWithoutCredential(t *testing.T) {
	cfg := config.Default()
	cfg.ModelDir = t.TempDir()
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}
