package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shopscan/internal/services"
)

func TestClassifyNamesBasic(t *testing.T) {
	set, err := ClassifyNames("shop", []string{"shop_optimized.ply", "shop.txt", "points_shop.txt"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if set.PointCloud != "shop_optimized.ply" {
		t.Fatalf("point cloud: %q", set.PointCloud)
	}
	if set.Trajectory != "shop.txt" {
		t.Fatalf("trajectory: %q", set.Trajectory)
	}
	if set.Points != "points_shop.txt" {
		t.Fatalf("points: %q", set.Points)
	}
	if len(set.Extras) != 0 {
		t.Fatalf("unexpected extras: %v", set.Extras)
	}
}

func TestClassifyNamesJSONOverwritesPoints(t *testing.T) {
	set, err := ClassifyNames("shop", []string{"coords.txt", "shop.json"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if set.Points != "shop.json" {
		t.Fatalf("json should win the points slot, got %q", set.Points)
	}
	if len(set.Extras) != 1 || set.Extras[0] != "coords.txt" {
		t.Fatalf("displaced txt should become an extra: %v", set.Extras)
	}
}

func TestClassifyNamesPrefersDirNamedJSON(t *testing.T) {
	set, err := ClassifyNames("shop", []string{"other.json", "shop.json"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if set.Points != "shop.json" {
		t.Fatalf("expected dir-named json, got %q", set.Points)
	}
	if len(set.Extras) != 1 || set.Extras[0] != "other.json" {
		t.Fatalf("losing json should become an extra: %v", set.Extras)
	}
}

func TestClassifyNamesLosingJSONBecomesExtra(t *testing.T) {
	set, err := ClassifyNames("shop", []string{"aaa.json", "bbb.json"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if set.Points != "aaa.json" {
		t.Fatalf("first json should win the points slot, got %q", set.Points)
	}
	if len(set.Extras) != 1 || set.Extras[0] != "bbb.json" {
		t.Fatalf("losing json should become an extra: %v", set.Extras)
	}
}

func TestClassifyNamesFirstCandidateWins(t *testing.T) {
	set, err := ClassifyNames("shop", []string{"a.ply", "b.ply", "traj_1.txt", "traj_2.txt"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if set.PointCloud != "a.ply" || set.Trajectory != "traj_1.txt" {
		t.Fatalf("first candidates should win: %+v", set)
	}
	if len(set.Extras) != 2 {
		t.Fatalf("later candidates should be extras: %v", set.Extras)
	}
}

func TestClassifyNamesUnmatchedTxtDefaultsToTrajectory(t *testing.T) {
	set, err := ClassifyNames("shop", []string{"camera_path.txt"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if set.Trajectory != "camera_path.txt" {
		t.Fatalf("unmatched txt should default to trajectory: %+v", set)
	}
}

func TestClassifyNamesNoArtifacts(t *testing.T) {
	_, err := ClassifyNames("shop", []string{"shop.mp4", "process.log"})
	if err == nil {
		t.Fatal("expected missing artifact error")
	}
	if !errors.Is(err, services.ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
}

func TestClassifyDirSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "shop")
	if err := os.MkdirAll(filepath.Join(work, "img"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"shop_optimized.ply", "shop.txt"} {
		if err := os.WriteFile(filepath.Join(work, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	set, err := ClassifyDir(work)
	if err != nil {
		t.Fatalf("classify dir: %v", err)
	}
	if set.PointCloud != "shop_optimized.ply" || set.Trajectory != "shop.txt" {
		t.Fatalf("unexpected set: %+v", set)
	}
}
