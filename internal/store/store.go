// Package store persists posts and their reconstruction artifacts in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"shopscan/internal/services"
)

// Store manages post persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the posts database at dbPath and applies
// migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenInDir opens the posts database in the given directory.
func OpenInDir(dir string) (*Store, error) {
	return Open(filepath.Join(dir, "posts.db"))
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// NewPost inserts a processing post for an uploaded video and returns it.
func (s *Store) NewPost(ctx context.Context, stem, title, videoPath string) (*Post, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	id := uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO posts (
            id, stem, title, video_path, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		stem,
		nullableString(title),
		videoPath,
		StatusProcessing,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a post by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get", fmt.Sprintf("post %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// FindByStem returns the post owning a filename stem, or nil when unused.
func (s *Store) FindByStem(ctx context.Context, stem string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE stem = ? LIMIT 1`, stem)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by stem: %w", err)
	}
	return post, nil
}

// Update persists changes to an existing post.
func (s *Store) Update(ctx context.Context, post *Post) error {
	if post == nil {
		return errors.New("post is nil")
	}
	post.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE posts
         SET stem = ?, title = ?, video_path = ?, ply_path = ?, traj_path = ?,
             points_path = ?, log_path = ?, extras_json = ?, status = ?,
             error_message = ?, ai_summary = ?, updated_at = ?
         WHERE id = ?`,
		post.Stem,
		nullableString(post.Title),
		post.VideoPath,
		nullableString(post.PlyPath),
		nullableString(post.TrajPath),
		nullableString(post.PointsPath),
		nullableString(post.LogPath),
		nullableString(post.ExtrasJSON),
		post.Status,
		nullableString(post.ErrorMessage),
		nullableString(post.AISummary),
		post.UpdatedAt.Format(time.RFC3339Nano),
		post.ID,
	)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return nil
}

// SetStatus updates only a post's status and optional error message.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, errorMessage string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE posts SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status,
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set post status: %w", err)
	}
	return nil
}

// List returns posts filtered by status set (or all posts when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Post, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + postColumns + ` FROM posts`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// Stats returns a count of posts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM posts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("post stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// StemInUse reports whether a stem is already claimed by a post.
func (s *Store) StemInUse(ctx context.Context, stem string) (bool, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM posts WHERE stem = ?`, stem)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check stem: %w", err)
	}
	return count > 0, nil
}

const postColumns = "id, stem, title, video_path, ply_path, traj_path, points_path, log_path, extras_json, status, error_message, ai_summary, created_at, updated_at"

func scanPost(scanner interface{ Scan(dest ...any) error }) (*Post, error) {
	var (
		id           string
		stem         string
		title        sql.NullString
		videoPath    string
		plyPath      sql.NullString
		trajPath     sql.NullString
		pointsPath   sql.NullString
		logPath      sql.NullString
		extrasJSON   sql.NullString
		statusStr    string
		errorMessage sql.NullString
		aiSummary    sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&stem,
		&title,
		&videoPath,
		&plyPath,
		&trajPath,
		&pointsPath,
		&logPath,
		&extrasJSON,
		&statusStr,
		&errorMessage,
		&aiSummary,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	post := &Post{
		ID:           id,
		Stem:         stem,
		Title:        title.String,
		VideoPath:    videoPath,
		PlyPath:      plyPath.String,
		TrajPath:     trajPath.String,
		PointsPath:   pointsPath.String,
		LogPath:      logPath.String,
		ExtrasJSON:   extrasJSON.String,
		Status:       Status(statusStr),
		ErrorMessage: errorMessage.String,
		AISummary:    aiSummary.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		post.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		post.UpdatedAt = updated
	}
	return post, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
