// Package fal talks to the fal.ai queue API.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/genstudio/internal/config"
)

// ErrEmptyResult is returned when a completed request carries no media URL.
var ErrEmptyResult = errors.New("fal: empty result")

// maxDownloadBytes caps the size of a fetched result asset.
const maxDownloadBytes = 64 << 20

type Client struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	log             *slog.Logger
	pollInterval    time.Duration
	maxPollAttempts int
}

type ImageRequest struct {
	Endpoint       string
	Prompt         string
	ImageSize      string
	InferenceSteps int
}

type Image struct {
	URL         string
	ContentType string
	Width       int
	Height      int
}

type VideoRequest struct {
	Endpoint      string
	Prompt        string
	AspectRatio   string
	Duration      string
	Resolution    string
	GenerateAudio bool
}

type Video struct {
	URL         string
	ContentType string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pollInterval := cfg.FalPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxAttempts := cfg.FalMaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 150
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:  cfg.FalAPIKey,
		baseURL: strings.TrimRight(cfg.FalBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:             log,
		pollInterval:    pollInterval,
		maxPollAttempts: maxAttempts,
	}
}

// GenerateImage runs a text-to-image request and returns the first image.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	input := map[string]any{
		"prompt":     req.Prompt,
		"image_size": req.ImageSize,
		"num_images": 1,
	}
	if req.InferenceSteps > 0 {
		input["num_inference_steps"] = req.InferenceSteps
	}

	var out struct {
		Images []struct {
			URL         string `json:"url"`
			ContentType string `json:"content_type"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
		} `json:"images"`
	}
	if err := c.run(ctx, req.Endpoint, input, &out); err != nil {
		return nil, err
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return nil, ErrEmptyResult
	}

	img := out.Images[0]
	return &Image{URL: img.URL, ContentType: img.ContentType, Width: img.Width, Height: img.Height}, nil
}

// GenerateVideo runs a text-to-video request.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*Video, error) {
	input := map[string]any{
		"prompt":         req.Prompt,
		"aspect_ratio":   req.AspectRatio,
		"duration":       req.Duration,
		"resolution":     req.Resolution,
		"generate_audio": req.GenerateAudio,
		"auto_fix":       true,
	}

	var out struct {
		Video struct {
			URL         string `json:"url"`
			ContentType string `json:"content_type"`
		} `json:"video"`
	}
	if err := c.run(ctx, req.Endpoint, input, &out); err != nil {
		return nil, err
	}
	if out.Video.URL == "" {
		return nil, ErrEmptyResult
	}
	return &Video{URL: out.Video.URL, ContentType: out.Video.ContentType}, nil
}

// Download fetches a result asset and returns its bytes and content type.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("download asset: status=%d body=%s", resp.StatusCode, truncateBody(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read asset: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("asset exceeds %d bytes", maxDownloadBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("asset is empty")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

type queuedRequest struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// run submits to the queue, waits for completion and decodes the result.
func (c *Client) run(ctx context.Context, endpoint string, input map[string]any, out any) error {
	queued, err := c.submit(ctx, endpoint, input)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := c.waitCompleted(ctx, queued); err != nil {
		return err
	}
	if err := c.getJSON(ctx, queued.ResponseURL, out); err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}
	c.log.Info("fal request completed", "request_id", queued.RequestID, "endpoint", endpoint)
	return nil
}

func (c *Client) submit(ctx context.Context, endpoint string, input map[string]any) (*queuedRequest, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	fullURL := c.baseURL + "/" + strings.Trim(endpoint, "/")

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	rawBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var queued queuedRequest
	if err := json.Unmarshal(rawBody, &queued); err != nil {
		return nil, fmt.Errorf("decode submit response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if queued.RequestID == "" {
		return nil, fmt.Errorf("empty request_id in response")
	}
	if queued.StatusURL == "" {
		queued.StatusURL = fullURL + "/requests/" + queued.RequestID + "/status"
	}
	if queued.ResponseURL == "" {
		queued.ResponseURL = fullURL + "/requests/" + queued.RequestID
	}

	c.log.Info("fal request queued", "request_id", queued.RequestID, "endpoint", endpoint)
	return &queued, nil
}

func (c *Client) waitCompleted(ctx context.Context, queued *queuedRequest) error {
	for attempt := 0; attempt < c.maxPollAttempts; attempt++ {
		var status struct {
			Status        string `json:"status"`
			QueuePosition int    `json:"queue_position"`
			Error         string `json:"error"`
		}
		if err := c.getJSON(ctx, queued.StatusURL, &status); err != nil {
			return fmt.Errorf("poll status: %w", err)
		}

		switch status.Status {
		case "COMPLETED":
			if status.Error != "" {
				return fmt.Errorf("request failed: %s", status.Error)
			}
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
			if attempt%10 == 0 {
				c.log.Debug("fal request pending", "request_id", queued.RequestID, "status", status.Status, "queue_position", status.QueuePosition, "attempt", attempt+1)
			}
		default:
			return fmt.Errorf("unknown request status: %q", status.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return fmt.Errorf("request %s timed out after %d polls", queued.RequestID, c.maxPollAttempts)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	rawBody, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("fal request failed", "status", resp.StatusCode, "path", req.URL.Path, "body", truncateBody(rawBody))
		return nil, fmt.Errorf("fal error: status=%d path=%s body=%s", resp.StatusCode, req.URL.Path, truncateBody(rawBody))
	}
	return rawBody, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
