package store

import "time"

// Status is the lifecycle state of a post.
type Status string

const (
	// StatusProcessing marks a post whose pipeline run is in flight.
	StatusProcessing Status = "processing"
	// StatusDone marks a post with persisted reconstruction artifacts.
	StatusDone Status = "done"
	// StatusError marks a post whose pipeline run failed.
	StatusError Status = "error"
)

// Post is one uploaded capture video and the reconstruction artifacts
// derived from it.
type Post struct {
	ID    string
	Stem  string
	Title string

	VideoPath  string
	PlyPath    string
	TrajPath   string
	PointsPath string
	LogPath    string
	// ExtrasJSON holds the non-canonical artifact names as a JSON array.
	ExtrasJSON string

	Status       Status
	ErrorMessage string
	AISummary    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the post has finished processing.
func (p *Post) Terminal() bool {
	return p.Status == StatusDone || p.Status == StatusError
}
