package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"promptsmith/internal/config"
	"promptsmith/internal/llm"
	"promptsmith/internal/transcript"
)

const generatedArtifactName = "generated.html"

// promptRequest is the JSON body shared by every text endpoint. Each endpoint
// reads exactly one of the input fields.
type promptRequest struct {
	Prompt string `json:"prompt"`
	Topic  string `json:"topic"`
	URL    string `json:"url"`
	Model  string `json:"model"`
}

func (r promptRequest) fieldValue(field string) string {
	switch field {
	case "topic":
		return r.Topic
	case "url":
		return r.URL
	default:
		return r.Prompt
	}
}

// promptEndpoint parameterizes the shared validate, template, dispatch and
// map flow of the text endpoints.
type promptEndpoint struct {
	field         string
	defaultModel  func(config.EndpointDefaults) string
	systemPrompt  string
	responseField string
}

var (
	mathReasoningEndpoint = promptEndpoint{
		field:         "prompt",
		defaultModel:  func(d config.EndpointDefaults) string { return d.MathReasoning },
		systemPrompt:  mathReasoningPrompt,
		responseField: "reasoning",
	}
	codingTaskEndpoint = promptEndpoint{
		field:         "prompt",
		defaultModel:  func(d config.EndpointDefaults) string { return d.CodingTask },
		systemPrompt:  codingTaskPrompt,
		responseField: "solution",
	}
	chatEndpoint = promptEndpoint{
		field:         "prompt",
		defaultModel:  func(d config.EndpointDefaults) string { return d.Chat },
		systemPrompt:  chatPrompt,
		responseField: "response",
	}
	explainerEndpoint = promptEndpoint{
		field:         "topic",
		defaultModel:  func(d config.EndpointDefaults) string { return d.Explainer },
		systemPrompt:  explainerPrompt,
		responseField: "explanation",
	}
)

func (s *Server) promptHandler(ep promptEndpoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req promptRequest
		if err := decodeRequestBody(c, &req); err != nil {
			return err
		}

		input, err := requireField(req, ep.field)
		if err != nil {
			return err
		}

		text, err := s.dispatchPrompt(c, req, ep, input)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, map[string]string{ep.responseField: text})
	}
}

// dispatchPrompt builds the two-message form and forwards it, applying the
// endpoint's default model when the caller supplied none.
func (s *Server) dispatchPrompt(c echo.Context, req promptRequest, ep promptEndpoint, userContent string) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = ep.defaultModel(s.cfg.Models.Defaults)
	}

	messages := []llm.Message{
		llm.System(ep.systemPrompt),
		llm.User(userContent),
	}

	text, err := s.deps.Dispatcher.Dispatch(c.Request().Context(), model, messages)
	if err != nil {
		return "", toHTTPError(err)
	}
	return text, nil
}

func requireField(req promptRequest, field string) (string, error) {
	input := strings.TrimSpace(req.fieldValue(field))
	if input == "" {
		return "", requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("%s is required", field),
		}
	}
	return input, nil
}

func (s *Server) handleGenerateCode(c echo.Context) error {
	var req promptRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	input, err := requireField(req, "prompt")
	if err != nil {
		return err
	}

	ep := promptEndpoint{
		field:        "prompt",
		defaultModel: func(d config.EndpointDefaults) string { return d.GenerateCode },
		systemPrompt: generateCodePrompt,
	}

	text, err := s.dispatchPrompt(c, req, ep, input)
	if err != nil {
		return err
	}

	// The raw model output is written verbatim; each request gets its own
	// file and the file is removed once the transfer finishes.
	path, cleanup, err := s.deps.Artifacts.Write([]byte(text), ".html")
	if err != nil {
		slog.Error("write generated artifact failed", "err", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "internal server error",
		}
	}
	defer cleanup()

	return c.Attachment(path, generatedArtifactName)
}

func (s *Server) handleYouTubeSummarize(c echo.Context) error {
	var req promptRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	videoURL, err := requireField(req, "url")
	if err != nil {
		return err
	}

	segments, err := s.deps.Transcripts.Fetch(c.Request().Context(), videoURL)
	if err != nil {
		if !errors.Is(err, transcript.ErrNoTranscript) {
			slog.Error("transcript fetch failed", "url", videoURL, "err", err)
		}
		return toHTTPError(err)
	}
	if len(segments) == 0 {
		return toHTTPError(transcript.ErrNoTranscript)
	}

	ep := promptEndpoint{
		field:         "url",
		defaultModel:  func(d config.EndpointDefaults) string { return d.YouTubeSummarize },
		systemPrompt:  youtubeSummarizePrompt,
		responseField: "summary",
	}

	userContent := "Transcript: " + transcript.JoinText(segments)
	text, err := s.dispatchPrompt(c, req, ep, userContent)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{ep.responseField: text})
}

func (s *Server) handleImageToText(c echo.Context) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "image file is required",
		}
	}

	src, err := fileHeader.Open()
	if err != nil {
		slog.Error("open uploaded image failed", "err", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "internal server error",
		}
	}
	defer src.Close()

	path, cleanup, err := s.deps.Uploads.Save(src, filepath.Ext(fileHeader.Filename))
	if err != nil {
		slog.Error("save uploaded image failed", "err", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "internal server error",
		}
	}
	// The upload is transient: it must disappear whether the upstream call
	// succeeds or fails.
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("read uploaded image failed", "err", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "internal server error",
		}
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	message := llm.UserParts(
		llm.ImagePart(llm.DataURI(mimeType, data)),
		llm.TextPart(describeImageInstruction),
	)

	description, err := s.deps.Vision.Chat(c.Request().Context(), s.cfg.Models.VisionDefault, []llm.Message{message})
	if err != nil {
		slog.Error("vision chat call failed", "model", s.cfg.Models.VisionDefault, "err", err)
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider error",
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"description": description})
}
