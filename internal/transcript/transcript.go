package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoTranscript indicates the service has no transcript for the video.
var ErrNoTranscript = errors.New("no transcript available")

// Segment is one timed unit of transcribed speech.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Client fetches transcripts from the external transcript service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient constructs a transcript client for the given service base URL.
func NewClient(baseURL string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		baseURL: baseURL,
		client:  client,
	}, nil
}

type transcriptResponse struct {
	Segments []Segment `json:"segments"`
}

// Fetch resolves a video URL to its ordered transcript segments. A missing
// or empty transcript yields ErrNoTranscript.
func (c *Client) Fetch(ctx context.Context, videoURL string) ([]Segment, error) {
	endpoint := c.baseURL + "/transcript?url=" + url.QueryEscape(videoURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("construct transcript request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcript request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoTranscript
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("transcript service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode transcript response: %w", err)
	}

	if len(parsed.Segments) == 0 {
		return nil, ErrNoTranscript
	}
	return parsed.Segments, nil
}

// JoinText concatenates every segment's text in order, space-joined.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		parts = append(parts, segment.Text)
	}
	return strings.Join(parts, " ")
}
