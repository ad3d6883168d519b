// Package recon is the HTTP client for the 3D reconstruction service: it
// uploads a capture video, polls for completion, and unpacks the returned
// point cloud archive next to the video.
package recon
