package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"promptsmith/internal/config"
	"promptsmith/internal/dispatch"
	"promptsmith/internal/llm"
	"promptsmith/internal/store"
	"promptsmith/internal/transcript"
)

const (
	maxJSONBodyBytes    = 1 << 20 // 1 MiB
	uploadBodyLimit     = "10M"
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 120 * time.Second
	idleTimeout         = 120 * time.Second
)

// Dispatcher validates a model id and forwards messages to the provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, modelID string, messages []llm.Message) (string, error)
}

// VisionCaller issues a raw chat call, used by the image path which bypasses
// the allow-list.
type VisionCaller interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// TranscriptFetcher resolves a video URL to its transcript segments.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoURL string) ([]transcript.Segment, error)
}

// Deps bundles the collaborators the handlers need.
type Deps struct {
	Dispatcher  Dispatcher
	Vision      VisionCaller
	Transcripts TranscriptFetcher
	Artifacts   *store.Store
	Uploads     *store.Store
}

type Server struct {
	cfg     config.Config
	deps    Deps
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if deps.Vision == nil {
		return nil, errors.New("vision caller must not be nil")
	}
	if deps.Transcripts == nil {
		return nil, errors.New("transcript fetcher must not be nil")
	}
	if deps.Artifacts == nil || deps.Uploads == nil {
		return nil, errors.New("file stores must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(uploadBodyLimit))

	srv := &Server{
		cfg:     cfg,
		deps:    deps,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/", s.handleRoot)
	s.app.POST("/api/generate-code", s.handleGenerateCode)
	s.app.POST("/api/math-reasoning", s.promptHandler(mathReasoningEndpoint))
	s.app.POST("/api/coding-task", s.promptHandler(codingTaskEndpoint))
	s.app.POST("/api/youtube-summarize", s.handleYouTubeSummarize)
	s.app.POST("/api/chat", s.promptHandler(chatEndpoint))
	s.app.POST("/api/image-to-text", s.handleImageToText)
	s.app.POST("/api/explainer", s.promptHandler(explainerEndpoint))
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.String(http.StatusOK, "promptsmith is running")
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error string `json:"error"`
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, errorBody{Error: reqErr.Message})
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = c.JSON(httpErr.Code, errorBody{Error: fmt.Sprintf("%v", httpErr.Message)})
		return
	}

	_ = c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

// toHTTPError translates collaborator failures into response errors. Input
// errors keep their message; upstream detail stays server-side.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, dispatch.ErrInvalidModel) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
		}
	}
	if errors.Is(err, transcript.ErrNoTranscript) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: "no transcript available for this video",
		}
	}
	if errors.Is(err, dispatch.ErrUpstreamFailure) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("promptsmith ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /")
	fmt.Println("  POST /api/generate-code")
	fmt.Println("  POST /api/math-reasoning")
	fmt.Println("  POST /api/coding-task")
	fmt.Println("  POST /api/youtube-summarize")
	fmt.Println("  POST /api/chat")
	fmt.Println("  POST /api/image-to-text")
	fmt.Println("  POST /api/explainer")
	fmt.Printf("Example:\n  curl http://%s:%d/api/chat -H 'Content-Type: application/json' -d '{\"prompt\":\"hello\"}'\n\n", host, port)
}
