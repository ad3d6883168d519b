package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walk.mp4")
	if err := os.WriteFile(path, []byte("not really mp4"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

func TestAnalyzeVideoFullFlow(t *testing.T) {
	var pollCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("upload missing api key, got %q", r.URL.Query().Get("key"))
		}
		if got := r.Header.Get("X-Goog-Upload-Protocol"); got != "raw" {
			t.Errorf("upload protocol = %q, want raw", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{
				"name":     "files/abc",
				"uri":      "https://files.example/abc",
				"mimeType": "video/mp4",
				"state":    "PROCESSING",
			},
		})
	})
	mux.HandleFunc("GET /v1beta/files/abc", func(w http.ResponseWriter, r *http.Request) {
		pollCalls++
		state := "PROCESSING"
		if pollCalls >= 2 {
			state = "ACTIVE"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":  "files/abc",
			"uri":   "https://files.example/abc",
			"state": state,
		})
	})
	mux.HandleFunc("POST /v1beta/models/test-model:generateContent", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode generate request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("unexpected generate contents: %+v", req.Contents)
		}
		if req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("response mime = %q", req.GenerationConfig.ResponseMimeType)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{
						"text": `[{"name":"cola","price":"1500","time_min":0,"time_sec":12,"time_ms":250}]`,
					}},
				},
			}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(
		Config{APIKey: "secret", BaseURL: server.URL, Model: "test-model"},
		WithSleeper(func(time.Duration) {}),
	)
	detections, err := client.AnalyzeVideo(context.Background(), writeTempVideo(t))
	if err != nil {
		t.Fatalf("AnalyzeVideo: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}
	d := detections[0]
	if d.Name != "cola" || d.Price == nil || *d.Price != "1500" {
		t.Fatalf("unexpected detection: %+v", d)
	}
	if d.TimeMin != 0 || d.TimeSec != 12 || d.TimeMS != 250 {
		t.Fatalf("unexpected detection time: %+v", d)
	}
	if pollCalls < 2 {
		t.Fatalf("expected at least 2 activation polls, got %d", pollCalls)
	}
}

func TestAnalyzeVideoFailedFileState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/bad", "uri": "u", "state": "FAILED"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(
		Config{APIKey: "secret", BaseURL: server.URL, Model: "m"},
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.AnalyzeVideo(context.Background(), writeTempVideo(t))
	if err == nil || !strings.Contains(err.Error(), "state FAILED") {
		t.Fatalf("expected failed-state error, got %v", err)
	}
}

func TestAnalyzeVideoPollBound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/slow", "uri": "u", "state": "PROCESSING"},
		})
	})
	mux.HandleFunc("GET /v1beta/files/slow", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "files/slow", "state": "PROCESSING"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(
		Config{APIKey: "secret", BaseURL: server.URL, Model: "m"},
		WithSleeper(func(time.Duration) {}),
		WithMaxPollAttempts(3),
	)
	_, err := client.AnalyzeVideo(context.Background(), writeTempVideo(t))
	if err == nil || !strings.Contains(err.Error(), "still processing") {
		t.Fatalf("expected poll-bound error, got %v", err)
	}
}

func TestAnalyzeVideoRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.AnalyzeVideo(context.Background(), "x.mp4"); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestDecodeOracleJSONVariants(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"plain", `[{"name":"a","time_min":0,"time_sec":1,"time_ms":2}]`},
		{"fenced", "```json\n[{\"name\":\"a\",\"time_min\":0,\"time_sec\":1,\"time_ms\":2}]\n```"},
		{"prose", "Here are the products: [{\"name\":\"a\",\"time_min\":0,\"time_sec\":1,\"time_ms\":2}] done."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var detections []Detection
			if err := DecodeOracleJSON(tc.payload, &detections); err != nil {
				t.Fatalf("DecodeOracleJSON: %v", err)
			}
			if len(detections) != 1 || detections[0].Name != "a" {
				t.Fatalf("unexpected decode result: %+v", detections)
			}
			if detections[0].Price != nil {
				t.Fatalf("price should be nil when absent, got %v", *detections[0].Price)
			}
		})
	}
}

func TestDecodeOracleJSONRejectsGarbage(t *testing.T) {
	var detections []Detection
	if err := DecodeOracleJSON("no json here", &detections); err == nil {
		t.Fatal("expected decode error")
	}
	if err := DecodeOracleJSON("", &detections); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
