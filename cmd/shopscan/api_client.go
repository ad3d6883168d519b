package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// postView mirrors the backend's post JSON.
type postView struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Title     string `json:"title"`

	VideoURL  *string `json:"video_url"`
	PlyURL    *string `json:"ply_url"`
	TrajURL   *string `json:"traj_url"`
	PointsURL *string `json:"points_url"`
	LogURL    *string `json:"log_url"`

	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	AISummary    *string       `json:"ai_summary"`
	Products     []productView `json:"products"`
}

type productView struct {
	Name     string   `json:"name"`
	Price    *string  `json:"price"`
	TimeMin  int      `json:"time_min"`
	TimeSec  int      `json:"time_sec"`
	TimeMS   int      `json:"time_ms"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Z        *float64 `json:"z"`
	ImageURL *string  `json:"image_url"`
}

var apiHTTPClient = &http.Client{Timeout: 5 * time.Minute}

func apiGet(ctx context.Context, base, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := apiHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to backend at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiUploadVideo(ctx context.Context, base, videoPath, title string) (*postView, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("video", filepath.Base(videoPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if title != "" {
		if err := writer.WriteField("title", title); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/posts/video", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := apiHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to backend at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var view postView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("backend: %s (HTTP %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("backend returned HTTP %d", resp.StatusCode)
}
