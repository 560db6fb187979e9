package audiolog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo describes one audit pair for the admin listing.
type FileInfo struct {
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int     `json:"samples"`
	SampleRate      int     `json:"sample_rate"`
	SessionID       int64   `json:"session_id"`
	Timestamp       string  `json:"timestamp"`
}

// List returns the audit pairs in dir, newest first by embedded timestamp,
// enriched from each .meta sidecar where present.
func List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audiolog: list %q: %w", dir, err)
	}

	type listed struct {
		info FileInfo
		ts   time.Time
	}
	var files []listed
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), rawSuffix) {
			continue
		}
		ts, sessionID, err := ParseFilename(e.Name())
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		item := FileInfo{
			Filename:  e.Name(),
			SizeBytes: fi.Size(),
			SessionID: sessionID,
			Timestamp: FormatTimestamp(ts),
		}
		var meta Metadata
		metaPath := filepath.Join(dir, strings.TrimSuffix(e.Name(), rawSuffix)+metaSuffix)
		if doc, err := os.ReadFile(metaPath); err == nil && json.Unmarshal(doc, &meta) == nil {
			item.DurationSeconds = meta.DurationSeconds
			item.Samples = meta.Samples
			item.SampleRate = meta.SampleRate
		}
		files = append(files, listed{info: item, ts: ts})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ts.After(files[j].ts) })
	out := make([]FileInfo, len(files))
	for i, f := range files {
		out[i] = f.info
	}
	return out, nil
}

// ResolveRaw validates a client-supplied filename against traversal and
// returns its path inside dir. Only managed .raw names resolve.
func ResolveRaw(dir, name string) (string, error) {
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("audiolog: invalid filename %q", name)
	}
	if _, _, err := ParseFilename(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
