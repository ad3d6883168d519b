// Package trajectory parses camera trajectory artifacts produced by the
// reconstruction service.
//
// The text format is TUM-like: whitespace-separated rows whose first field is
// a timestamp in seconds, followed by at least three position floats and
// optionally four orientation quaternion floats. Rows that do not parse are
// skipped. Sample order is file order and is significant downstream; the
// coordinate correlator breaks ties by it.
package trajectory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Sample is one row of a trajectory file.
type Sample struct {
	Time float64
	X    float64
	Y    float64
	Z    float64
	// Quat holds qx, qy, qz, qw when the row carries orientation.
	Quat *[4]float64
}

// Parse reads trajectory samples from r in file order.
func Parse(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sample, ok := parseRow(strings.Fields(line))
		if !ok {
			continue
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trajectory: %w", err)
	}
	return samples, nil
}

// ParseFile reads trajectory samples from the file at path.
func ParseFile(path string) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

func parseRow(fields []string) (Sample, bool) {
	if len(fields) < 4 {
		return Sample{}, false
	}
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Sample{}, false
		}
		values = append(values, v)
	}
	sample := Sample{Time: values[0], X: values[1], Y: values[2], Z: values[3]}
	if len(values) >= 8 {
		quat := [4]float64{values[4], values[5], values[6], values[7]}
		sample.Quat = &quat
	}
	return sample, true
}
