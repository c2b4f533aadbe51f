package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"promptsmith/internal/config"
	"promptsmith/internal/dispatch"
	"promptsmith/internal/llm"
	"promptsmith/internal/store"
	"promptsmith/internal/transcript"
)

// --- Mock collaborators ---

type mockDispatcher struct {
	mu       sync.Mutex
	response string
	err      error
	// respond, when set, computes the response from the forwarded call.
	respond func(model string, msgs []llm.Message) (string, error)

	calls     int
	lastModel string
	lastMsgs  []llm.Message
}

func (m *mockDispatcher) Dispatch(_ context.Context, model string, msgs []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastModel = model
	m.lastMsgs = msgs
	if m.respond != nil {
		return m.respond(model, msgs)
	}
	return m.response, m.err
}

func (m *mockDispatcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockVision struct {
	response string
	err      error

	calls     int
	lastModel string
	lastMsgs  []llm.Message
}

func (m *mockVision) Chat(_ context.Context, model string, msgs []llm.Message) (string, error) {
	m.calls++
	m.lastModel = model
	m.lastMsgs = msgs
	return m.response, m.err
}

type mockTranscripts struct {
	segments []transcript.Segment
	err      error

	calls   int
	lastURL string
}

func (m *mockTranscripts) Fetch(_ context.Context, videoURL string) ([]transcript.Segment, error) {
	m.calls++
	m.lastURL = videoURL
	if m.err != nil {
		return nil, m.err
	}
	return m.segments, nil
}

// --- Helpers ---

type testEnv struct {
	srv          *Server
	cfg          config.Config
	dispatcher   *mockDispatcher
	vision       *mockVision
	transcripts  *mockTranscripts
	artifactsDir string
	uploadsDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		dispatcher:   &mockDispatcher{response: "canned answer"},
		vision:       &mockVision{response: "canned description"},
		transcripts:  &mockTranscripts{},
		artifactsDir: t.TempDir(),
		uploadsDir:   t.TempDir(),
	}

	cfg := config.Default()
	cfg.Provider.APIKey = "test-key"
	cfg.Storage.ArtifactsDir = env.artifactsDir
	cfg.Storage.UploadsDir = env.uploadsDir
	env.cfg = cfg

	artifacts, err := store.New(env.artifactsDir)
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	uploads, err := store.New(env.uploadsDir)
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}

	srv, err := New(cfg, Deps{
		Dispatcher:  env.dispatcher,
		Vision:      env.vision,
		Transcripts: env.transcripts,
		Artifacts:   artifacts,
		Uploads:     uploads,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	env.srv = srv
	return env
}

func (env *testEnv) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func requireDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %q: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Errorf("expected %q to be empty, found %d entries", dir, len(entries))
	}
}

func userContent(t *testing.T, msgs []llm.Message) string {
	t.Helper()
	if len(msgs) != 2 {
		t.Fatalf("expected system plus user message, got %d messages", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[1].Role != llm.RoleUser {
		t.Fatalf("expected system then user ordering, got %q then %q", msgs[0].Role, msgs[1].Role)
	}
	content, ok := msgs[1].Content.(string)
	if !ok {
		t.Fatalf("expected plain text user content, got %T", msgs[1].Content)
	}
	return content
}

// --- Liveness ---

func TestRoot_Liveness(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("expected liveness text, got %q", rec.Body.String())
	}
}

// --- Missing input ---

func TestTextEndpoints_MissingInput(t *testing.T) {
	cases := []struct {
		path  string
		field string
	}{
		{"/api/generate-code", "prompt"},
		{"/api/math-reasoning", "prompt"},
		{"/api/coding-task", "prompt"},
		{"/api/youtube-summarize", "url"},
		{"/api/chat", "prompt"},
		{"/api/explainer", "topic"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.postJSON(tc.path, `{}`)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}

			body := decodeBody(t, rec)
			if !strings.Contains(body["error"], tc.field) {
				t.Errorf("error should name the missing field %q, got %q", tc.field, body["error"])
			}
			if env.dispatcher.callCount() != 0 {
				t.Errorf("missing input must not reach the dispatcher, got %d calls", env.dispatcher.calls)
			}
			if env.transcripts.calls != 0 {
				t.Errorf("missing input must not reach the transcript service, got %d calls", env.transcripts.calls)
			}
		})
	}
}

// --- Text endpoints ---

func TestChat_Success(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.response = "hello to you"

	rec := env.postJSON("/api/chat", `{"prompt":"hi there"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["response"] != "hello to you" {
		t.Errorf("expected response field with provider text, got %v", body)
	}
	if env.dispatcher.lastModel != env.cfg.Models.Defaults.Chat {
		t.Errorf("expected default chat model %q, got %q", env.cfg.Models.Defaults.Chat, env.dispatcher.lastModel)
	}
	if got := userContent(t, env.dispatcher.lastMsgs); got != "hi there" {
		t.Errorf("expected prompt forwarded verbatim, got %q", got)
	}
}

func TestChat_CallerModelIsForwarded(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON("/api/chat", `{"prompt":"hi","model":"qwen/qwen-2.5-72b-instruct"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.dispatcher.lastModel != "qwen/qwen-2.5-72b-instruct" {
		t.Errorf("expected caller model forwarded, got %q", env.dispatcher.lastModel)
	}
}

func TestResponseFieldNames(t *testing.T) {
	cases := []struct {
		path  string
		body  string
		field string
	}{
		{"/api/math-reasoning", `{"prompt":"2+2?"}`, "reasoning"},
		{"/api/coding-task", `{"prompt":"reverse a list"}`, "solution"},
		{"/api/explainer", `{"topic":"entropy"}`, "explanation"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			env := newTestEnv(t)
			env.dispatcher.response = "model output"

			rec := env.postJSON(tc.path, tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}

			body := decodeBody(t, rec)
			if body[tc.field] != "model output" {
				t.Errorf("expected %q field, got %v", tc.field, body)
			}
		})
	}
}

func TestInvalidModel_EnumeratesAllowList(t *testing.T) {
	env := newTestEnv(t)

	chat := &countingChat{}
	realDispatcher, err := dispatch.New([]string{"meta-llama/llama-3.1-70b-instruct"}, chat)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	env.srv.deps.Dispatcher = realDispatcher

	rec := env.postJSON("/api/chat", `{"prompt":"hi","model":"made-up-model"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if !strings.Contains(body["error"], "meta-llama/llama-3.1-70b-instruct") {
		t.Errorf("error should enumerate allowed models, got %q", body["error"])
	}
	if chat.calls != 0 {
		t.Errorf("invalid model must not reach the provider, got %d calls", chat.calls)
	}
}

type countingChat struct {
	calls int
}

func (c *countingChat) Chat(context.Context, string, []llm.Message) (string, error) {
	c.calls++
	return "unexpected", nil
}

func TestUpstreamFailure_IsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.err = dispatch.ErrUpstreamFailure

	rec := env.postJSON("/api/chat", `{"prompt":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["error"] != "upstream provider error" {
		t.Errorf("expected generic upstream message, got %q", body["error"])
	}
}

// --- YouTube summarizer ---

func TestYouTubeSummarize_NoTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.transcripts.err = transcript.ErrNoTranscript

	rec := env.postJSON("/api/youtube-summarize", `{"url":"https://youtu.be/abc"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.dispatcher.callCount() != 0 {
		t.Errorf("missing transcript must not reach the dispatcher, got %d calls", env.dispatcher.calls)
	}
}

func TestYouTubeSummarize_JoinsSegments(t *testing.T) {
	env := newTestEnv(t)
	env.transcripts.segments = []transcript.Segment{
		{Text: "Hello", Start: 0, Duration: 1},
		{Text: "world", Start: 1, Duration: 1},
	}
	env.dispatcher.response = "a short summary"

	rec := env.postJSON("/api/youtube-summarize", `{"url":"https://youtu.be/abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["summary"] != "a short summary" {
		t.Errorf("expected summary field, got %v", body)
	}
	if env.transcripts.lastURL != "https://youtu.be/abc" {
		t.Errorf("expected video URL forwarded, got %q", env.transcripts.lastURL)
	}
	if got := userContent(t, env.dispatcher.lastMsgs); got != "Transcript: Hello world" {
		t.Errorf("expected joined transcript as user content, got %q", got)
	}
	if env.dispatcher.lastModel != env.cfg.Models.Defaults.YouTubeSummarize {
		t.Errorf("expected summarize default model, got %q", env.dispatcher.lastModel)
	}
}

// --- Code generation ---

func TestGenerateCode_ArtifactLifecycle(t *testing.T) {
	env := newTestEnv(t)
	doc := "<html><body>generated</body></html>"
	env.dispatcher.response = doc

	rec := env.postJSON("/api/generate-code", `{"prompt":"landing page"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != doc {
		t.Errorf("artifact bytes must equal provider text, got %q", rec.Body.String())
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "generated.html") {
		t.Errorf("expected attachment disposition, got %q", cd)
	}

	requireDirEmpty(t, env.artifactsDir)
}

func TestGenerateCode_ConcurrentRequestsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.respond = func(_ string, msgs []llm.Message) (string, error) {
		content, _ := msgs[1].Content.(string)
		return "DOC for " + content, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := fmt.Sprintf("page-%d", i)
			rec := env.postJSON("/api/generate-code", fmt.Sprintf(`{"prompt":%q}`, prompt))
			if rec.Code != http.StatusOK {
				errCh <- fmt.Errorf("request %d: status %d", i, rec.Code)
				return
			}
			if want := "DOC for " + prompt; rec.Body.String() != want {
				errCh <- fmt.Errorf("request %d: got %q, want %q", i, rec.Body.String(), want)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	requireDirEmpty(t, env.artifactsDir)
}

// --- Image to text ---

func multipartImage(t *testing.T, field, filename, mimeType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write multipart content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	return &buf, writer.FormDataContentType()
}

func (env *testEnv) postImage(t *testing.T, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/image-to-text", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestImageToText_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartImage(t, "wrong-field", "cat.png", "image/png", []byte("bytes"))
	rec := env.postImage(t, body, contentType)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	respBody := decodeBody(t, rec)
	if !strings.Contains(respBody["error"], "image") {
		t.Errorf("error should name the missing file field, got %q", respBody["error"])
	}
	if env.vision.calls != 0 {
		t.Errorf("missing file must not reach the provider, got %d calls", env.vision.calls)
	}
}

func TestImageToText_Success(t *testing.T) {
	env := newTestEnv(t)
	env.vision.response = "a cat on a sofa"
	imageBytes := []byte{0x89, 0x50, 0x4e, 0x47}

	body, contentType := multipartImage(t, "image", "cat.png", "image/png", imageBytes)
	rec := env.postImage(t, body, contentType)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	respBody := decodeBody(t, rec)
	if respBody["description"] != "a cat on a sofa" {
		t.Errorf("expected description field, got %v", respBody)
	}

	if env.vision.lastModel != env.cfg.Models.VisionDefault {
		t.Errorf("expected vision model %q, got %q", env.cfg.Models.VisionDefault, env.vision.lastModel)
	}
	if len(env.vision.lastMsgs) != 1 {
		t.Fatalf("expected a single user message, got %d", len(env.vision.lastMsgs))
	}
	parts, ok := env.vision.lastMsgs[0].Content.([]llm.ContentPart)
	if !ok {
		t.Fatalf("expected mixed content parts, got %T", env.vision.lastMsgs[0].Content)
	}
	if len(parts) != 2 || parts[0].Type != llm.ContentTypeImageURL || parts[1].Type != llm.ContentTypeText {
		t.Fatalf("expected image part then text part, got %+v", parts)
	}
	if !strings.HasPrefix(parts[0].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("expected data URI with declared MIME type, got %q", parts[0].ImageURL.URL)
	}

	requireDirEmpty(t, env.uploadsDir)
}

func TestImageToText_CleansUpOnUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.vision.err = fmt.Errorf("provider exploded")

	body, contentType := multipartImage(t, "image", "cat.png", "image/png", []byte("bytes"))
	rec := env.postImage(t, body, contentType)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	respBody := decodeBody(t, rec)
	if respBody["error"] != "upstream provider error" {
		t.Errorf("expected generic upstream message, got %q", respBody["error"])
	}
	if strings.Contains(rec.Body.String(), "exploded") {
		t.Error("provider detail must not leak to callers")
	}

	requireDirEmpty(t, env.uploadsDir)
}
