package audiolog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	filenamePrefix = "audio_"
	rawSuffix      = ".raw"
	metaSuffix     = ".meta"
	// Timestamp embedded in filenames, millisecond resolution, UTC.
	timestampLayout = "20060102_150405"
)

// FormatTimestamp renders t in the filename-embedded form
// YYYYMMDD_HHMMSS_mmm.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%03d", t.Format(timestampLayout), t.Nanosecond()/int(time.Millisecond))
}

// Filename composes the load-bearing pattern
// audio_YYYYMMDD_HHMMSS_mmm_session_<id>.raw.
func Filename(t time.Time, sessionID int64) string {
	return fmt.Sprintf("%s%s_session_%d%s", filenamePrefix, FormatTimestamp(t), sessionID, rawSuffix)
}

// ParseFilename extracts the embedded timestamp and session id from a .raw
// filename. Files that don't match the pattern are not managed by the
// rotator.
func ParseFilename(name string) (ts time.Time, sessionID int64, err error) {
	base := strings.TrimSuffix(name, rawSuffix)
	if base == name || !strings.HasPrefix(base, filenamePrefix) {
		return time.Time{}, 0, fmt.Errorf("audiolog: %q does not match the audit filename pattern", name)
	}
	rest := strings.TrimPrefix(base, filenamePrefix)

	// audio_<date>_<time>_<ms>_session_<id>
	parts := strings.Split(rest, "_session_")
	if len(parts) != 2 {
		return time.Time{}, 0, fmt.Errorf("audiolog: %q missing session marker", name)
	}
	sessionID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("audiolog: %q bad session id: %w", name, err)
	}

	stamp := parts[0]
	if len(stamp) != len(timestampLayout)+4 {
		return time.Time{}, 0, fmt.Errorf("audiolog: %q bad timestamp length", name)
	}
	datePart, msPart := stamp[:len(timestampLayout)], stamp[len(timestampLayout)+1:]
	t, err := time.ParseInLocation(timestampLayout, datePart, time.UTC)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("audiolog: %q bad timestamp: %w", name, err)
	}
	ms, err := strconv.Atoi(msPart)
	if err != nil || ms < 0 || ms > 999 {
		return time.Time{}, 0, fmt.Errorf("audiolog: %q bad milliseconds", name)
	}
	return t.Add(time.Duration(ms) * time.Millisecond), sessionID, nil
}

type trackedFile struct {
	name string
	ts   time.Time
}

// rotator keeps the (raw, meta) pair count in one directory at or below the
// limit, evicting oldest-first by the filename-embedded timestamp. It is
// driven only from the logger task, so no locking.
type rotator struct {
	dir     string
	tracked []trackedFile // sorted oldest first
}

// retarget points the rotator at a directory, flushing the tracked set and
// repopulating it from disk. Also used by the periodic sweep to pick up
// externally added files.
func (r *rotator) retarget(dir string) error {
	r.dir = dir
	r.tracked = r.tracked[:0]

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("audiolog: scan %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), rawSuffix) {
			continue
		}
		ts, _, err := ParseFilename(e.Name())
		if err != nil {
			continue // foreign file, leave it alone
		}
		r.tracked = append(r.tracked, trackedFile{name: e.Name(), ts: ts})
	}
	sort.Slice(r.tracked, func(i, j int) bool { return r.tracked[i].ts.Before(r.tracked[j].ts) })
	return nil
}

// add registers a freshly published pair.
func (r *rotator) add(name string, ts time.Time) {
	r.tracked = append(r.tracked, trackedFile{name: name, ts: ts})
	// Publishes are nearly always in timestamp order; fix up the tail if not.
	for i := len(r.tracked) - 1; i > 0 && r.tracked[i].ts.Before(r.tracked[i-1].ts); i-- {
		r.tracked[i], r.tracked[i-1] = r.tracked[i-1], r.tracked[i]
	}
}

// enforce deletes oldest pairs until at most maxFiles remain.
func (r *rotator) enforce(maxFiles int) {
	for len(r.tracked) > maxFiles {
		victim := r.tracked[0]
		r.tracked = r.tracked[1:]

		rawPath := filepath.Join(r.dir, victim.name)
		metaPath := strings.TrimSuffix(rawPath, rawSuffix) + metaSuffix
		if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
			log.Printf("audiolog: evict %s: %v", rawPath, err)
		}
		if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
			log.Printf("audiolog: evict %s: %v", metaPath, err)
		}
	}
}
