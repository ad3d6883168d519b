package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"shopscan/internal/services"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "posts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewPostAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	post, err := s.NewPost(ctx, "store7", "Store 7 walkthrough", "/media/store7/store7.mp4")
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if post.ID == "" {
		t.Fatal("post id is empty")
	}
	if post.Status != StatusProcessing {
		t.Fatalf("status = %s, want processing", post.Status)
	}
	if post.CreatedAt.IsZero() || post.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	fetched, err := s.GetByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Stem != "store7" || fetched.Title != "Store 7 walkthrough" {
		t.Fatalf("unexpected post: %+v", fetched)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetByID(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePersistsArtifacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	post, err := s.NewPost(ctx, "aisle", "", "/media/aisle/aisle.mp4")
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	post.PlyPath = "/media/aisle/aisle_optimized.ply"
	post.TrajPath = "/media/aisle/aisle.txt"
	post.PointsPath = "/media/aisle/aisle.json"
	post.ExtrasJSON = `["aisle_raw.ply"]`
	post.Status = StatusDone
	post.AISummary = "A grocery aisle with snacks and drinks."
	if err := s.Update(ctx, post); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetched, err := s.GetByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != StatusDone {
		t.Fatalf("status = %s, want done", fetched.Status)
	}
	if fetched.PlyPath == "" || fetched.TrajPath == "" || fetched.PointsPath == "" {
		t.Fatalf("artifact paths not persisted: %+v", fetched)
	}
	if fetched.ExtrasJSON != `["aisle_raw.ply"]` {
		t.Fatalf("extras = %q", fetched.ExtrasJSON)
	}
	if fetched.AISummary == "" {
		t.Fatal("ai summary not persisted")
	}
}

func TestSetStatusRecordsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	post, err := s.NewPost(ctx, "bad", "", "/media/bad/bad.mp4")
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if err := s.SetStatus(ctx, post.ID, StatusError, "reconstruction failed"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	fetched, err := s.GetByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != StatusError || fetched.ErrorMessage != "reconstruction failed" {
		t.Fatalf("unexpected post after failure: %+v", fetched)
	}
	if !fetched.Terminal() {
		t.Fatal("error post should be terminal")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.NewPost(ctx, "one", "", "/media/one/one.mp4")
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if _, err := s.NewPost(ctx, "two", "", "/media/two/two.mp4"); err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if err := s.SetStatus(ctx, first.ID, StatusDone, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d posts, want 2", len(all))
	}
	done, err := s.List(ctx, StatusDone)
	if err != nil {
		t.Fatalf("List done: %v", err)
	}
	if len(done) != 1 || done[0].Stem != "one" {
		t.Fatalf("unexpected done posts: %+v", done)
	}
}

func TestStemInUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.NewPost(ctx, "taken", "", "/media/taken/taken.mp4"); err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	used, err := s.StemInUse(ctx, "taken")
	if err != nil {
		t.Fatalf("StemInUse: %v", err)
	}
	if !used {
		t.Fatal("stem should be in use")
	}
	free, err := s.StemInUse(ctx, "free")
	if err != nil {
		t.Fatalf("StemInUse: %v", err)
	}
	if free {
		t.Fatal("unused stem reported as taken")
	}

	post, err := s.FindByStem(ctx, "taken")
	if err != nil {
		t.Fatalf("FindByStem: %v", err)
	}
	if post == nil || post.Stem != "taken" {
		t.Fatalf("FindByStem = %+v", post)
	}
	missing, err := s.FindByStem(ctx, "free")
	if err != nil {
		t.Fatalf("FindByStem: %v", err)
	}
	if missing != nil {
		t.Fatalf("FindByStem for unused stem = %+v", missing)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	post, err := s.NewPost(ctx, "a", "", "/media/a/a.mp4")
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if _, err := s.NewPost(ctx, "b", "", "/media/b/b.mp4"); err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if err := s.SetStatus(ctx, post.ID, StatusDone, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[StatusProcessing] != 1 || stats[StatusDone] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}
