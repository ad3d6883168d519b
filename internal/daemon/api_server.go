package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"shopscan/internal/logging"
	"shopscan/internal/products"
	"shopscan/internal/services"
	"shopscan/internal/store"
)

// maxUploadBytes caps a single video upload.
const maxUploadBytes = 2 << 30

// ProductView is the API projection of one detected product.
type ProductView struct {
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

// PostView is the API projection of a post: stored relative paths become
// /media/ URLs, and the detection sidecar is inlined as products.
type PostView struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Title     string `json:"title"`

	VideoURL  *string `json:"video_url"`
	PlyURL    *string `json:"ply_url"`
	TrajURL   *string `json:"traj_url"`
	PointsURL *string `json:"points_url"`
	LogURL    *string `json:"log_url"`

	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	AISummary    *string       `json:"ai_summary"`
	Products     []ProductView `json:"products"`
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logger,
		daemon: d,
	}

	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/posts/video", s.handleCreateVideoPost)
	mux.HandleFunc("/api/posts", s.handleListPosts)
	mux.HandleFunc("/api/posts/", s.handleGetPost)
	mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(s.daemon.MediaDir()))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleCreateVideoPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart field 'video' is required")
		return
	}
	defer file.Close()

	title := strings.TrimSpace(r.FormValue("title"))
	post, err := s.daemon.SubmitVideo(r.Context(), header.Filename, title, file)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, "only .mp4 uploads are supported")
			return
		}
		s.log().Error("video submit failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, s.postView(post))
}

func (s *apiServer) handleListPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	posts, err := s.daemon.ListPosts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Newest first.
	views := make([]PostView, 0, len(posts))
	for i := len(posts) - 1; i >= 0; i-- {
		views = append(views, s.postView(posts[i]))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleGetPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/posts/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "post not found")
		return
	}
	post, err := s.daemon.GetPost(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.postView(post))
}

func (s *apiServer) postView(post *store.Post) PostView {
	view := PostView{
		ID:        post.ID,
		CreatedAt: post.CreatedAt.UTC().Format(time.RFC3339),
		Title:     post.Title,
		VideoURL:  mediaURL(post.VideoPath),
		PlyURL:    mediaURL(post.PlyPath),
		TrajURL:   mediaURL(post.TrajPath),
		PointsURL: mediaURL(post.PointsPath),
		LogURL:    mediaURL(post.LogPath),

		Status:       string(post.Status),
		ErrorMessage: post.ErrorMessage,
		Products:     []ProductView{},
	}
	if post.AISummary != "" {
		summary := post.AISummary
		view.AISummary = &summary
	}

	videoAbs := filepath.Join(s.daemon.MediaDir(), filepath.FromSlash(post.VideoPath))
	for idx, det := range products.ReadSidecar(videoAbs) {
		pv := ProductView{
			Name:    det.Name,
			Price:   det.Price,
			TimeMin: det.TimeMin,
			TimeSec: det.TimeSec,
			TimeMS:  det.TimeMS,
			X:       det.X,
			Y:       det.Y,
			Z:       det.Z,
		}
		image := filepath.Join(products.ImageDir(videoAbs), strconv.Itoa(idx)+".png")
		if _, err := os.Stat(image); err == nil {
			url := "/media/" + post.Stem + "/img/" + strconv.Itoa(idx) + ".png"
			pv.ImageURL = &url
		}
		view.Products = append(view.Products, pv)
	}
	return view
}

// mediaURL maps a media-relative path to its public URL; missing artifacts
// stay null in the API.
func mediaURL(rel string) *string {
	if strings.TrimSpace(rel) == "" {
		return nil
	}
	url := "/media/" + rel
	return &url
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
