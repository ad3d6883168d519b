// Package artifacts classifies the files a reconstruction leaves in a job's
// working directory into canonical artifact paths.
//
// Classification itself is a pure function over filenames so it can be tested
// with synthetic lists; ClassifyDir wraps it with the single directory read
// the pipeline needs.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shopscan/internal/services"
)

// Set holds the canonical artifact paths chosen for one reconstruction.
// Paths are relative to the inspected directory. Extras records candidates
// that lost to an earlier file in their category; they are kept for
// diagnostics, never linked to the post.
type Set struct {
	PointCloud string
	Trajectory string
	Points     string
	Extras     []string
}

var trajectoryKeywords = []string{"traj", "trajectory", "tum"}

var pointsKeywords = []string{"point", "coord", "xyz"}

// ClassifyNames assigns canonical artifacts from a directory listing.
// dirName is the base name of the working directory; a JSON file named
// "<dirName>.json" is preferred over other JSON files, and any chosen JSON
// overwrites the points path because it is the richer coordinate source.
// Names are evaluated in the order given.
func ClassifyNames(dirName string, names []string) (Set, error) {
	var set Set
	var jsonCandidates []string

	for _, name := range names {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".ply":
			if set.PointCloud == "" {
				set.PointCloud = name
			} else {
				set.Extras = append(set.Extras, name)
			}
		case ".txt":
			switch classifyTxtName(name) {
			case "points":
				if set.Points == "" {
					set.Points = name
				} else {
					set.Extras = append(set.Extras, name)
				}
			default:
				if set.Trajectory == "" {
					set.Trajectory = name
				} else {
					set.Extras = append(set.Extras, name)
				}
			}
		case ".json":
			jsonCandidates = append(jsonCandidates, name)
		}
	}

	if chosen := pickJSON(dirName, jsonCandidates); chosen != "" {
		// JSON carries per-product 3D coordinates and always wins the
		// points slot, even over an already chosen text file.
		if set.Points != "" {
			set.Extras = append(set.Extras, set.Points)
		}
		set.Points = chosen
		for _, name := range jsonCandidates {
			if name != chosen {
				set.Extras = append(set.Extras, name)
			}
		}
	}

	if set.PointCloud == "" && set.Trajectory == "" && set.Points == "" {
		return Set{}, services.Wrap(services.ErrMissingArtifact, "classify", "", "no result files (.ply/.txt/.json) found", nil)
	}
	return set, nil
}

// ClassifyDir enumerates dir (non-recursive) and classifies its files in
// directory iteration order.
func ClassifyDir(dir string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Set{}, fmt.Errorf("read artifact directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return ClassifyNames(filepath.Base(dir), names)
}

func classifyTxtName(name string) string {
	lower := strings.ToLower(name)
	for _, keyword := range trajectoryKeywords {
		if strings.Contains(lower, keyword) {
			return "traj"
		}
	}
	for _, keyword := range pointsKeywords {
		if strings.Contains(lower, keyword) {
			return "points"
		}
	}
	return "traj"
}

func pickJSON(dirName string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	want := strings.ToLower(dirName) + ".json"
	for _, name := range candidates {
		if strings.ToLower(name) == want {
			return name
		}
	}
	return candidates[0]
}
