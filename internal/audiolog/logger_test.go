package audiolog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/larsmk/hark/internal/audio"
)

func testStore(t *testing.T, dir string, maxFiles int) *ConfigStore {
	t.Helper()
	s, err := NewConfigStore(Config{Enabled: true, OutputDir: dir, MaxFiles: maxFiles})
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}
	return s
}

func startLogger(t *testing.T, store *ConfigStore) *Logger {
	t.Helper()
	l := NewLogger(store)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		l.Wait()
	})
	return l
}

func waitForPairs(t *testing.T, dir string, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		raws, _ := filepath.Glob(filepath.Join(dir, "*.raw"))
		if len(raws) == want || time.Now().After(deadline) {
			if len(raws) != want {
				t.Fatalf("directory holds %d raw files, want %d", len(raws), want)
			}
			return raws
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func samplesOf(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestLoggerPublishesPair(t *testing.T) {
	dir := t.TempDir()
	l := startLogger(t, testStore(t, dir, 10))

	at := time.Date(2026, 3, 14, 9, 26, 53, int(589*time.Millisecond), time.UTC)
	l.Submit(Entry{SessionID: 7, Samples: samplesOf(1600, 0.25), At: at})

	raws := waitForPairs(t, dir, 1)
	name := filepath.Base(raws[0])
	if name != "audio_20260314_092653_589_session_7.raw" {
		t.Fatalf("filename = %q", name)
	}

	raw, err := os.ReadFile(raws[0])
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	got, err := audio.DecodeFloat32(raw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if len(got) != 1600 || got[0] != 0.25 {
		t.Fatalf("raw round trip: %d samples, first %v", len(got), got[0])
	}

	metaPath := strings.TrimSuffix(raws[0], ".raw") + ".meta"
	doc, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(doc, &meta); err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	if meta.Samples != 1600 || meta.SampleRate != 16000 || meta.Channels != 1 || meta.DataType != "float32" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.DurationSeconds != 0.1 {
		t.Fatalf("duration = %v, want 0.1", meta.DurationSeconds)
	}
	if meta.SessionID != 7 || meta.Filename != name {
		t.Fatalf("meta identity = %+v", meta)
	}
	// Atomicity floor: the visible raw file always covers samples*4 bytes.
	if int64(meta.Samples*4) != int64(len(raw)) {
		t.Fatalf("raw size %d != samples*4 %d", len(raw), meta.Samples*4)
	}
}

func TestLoggerRotationKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	l := startLogger(t, testStore(t, dir, 3))

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Submit(Entry{SessionID: 1, Samples: samplesOf(512, 0.1), At: base.Add(time.Duration(i) * time.Second)})
	}

	// Wait for the final publish to land before judging the retained set.
	newest := filepath.Join(dir, "audio_20260314_100004_000_session_1.raw")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(newest); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	raws := waitForPairs(t, dir, 3)
	var names []string
	for _, r := range raws {
		names = append(names, filepath.Base(r))
	}
	for _, victim := range []string{
		"audio_20260314_100000_000_session_1.raw",
		"audio_20260314_100001_000_session_1.raw",
	} {
		for _, n := range names {
			if n == victim {
				t.Fatalf("oldest file %s survived rotation; have %v", victim, names)
			}
		}
	}
	metas, _ := filepath.Glob(filepath.Join(dir, "*.meta"))
	if len(metas) != 3 {
		t.Fatalf("meta count = %d, want 3", len(metas))
	}
}

func TestLoggerDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(Config{Enabled: false, OutputDir: dir, MaxFiles: 3})
	if err != nil {
		t.Fatalf("NewConfigStore() error = %v", err)
	}
	l := startLogger(t, store)

	l.Submit(Entry{SessionID: 1, Samples: samplesOf(512, 0.1), At: time.Now()})
	time.Sleep(100 * time.Millisecond)
	raws, _ := filepath.Glob(filepath.Join(dir, "*.raw"))
	if len(raws) != 0 {
		t.Fatalf("disabled logger wrote %d files", len(raws))
	}
}

func TestLoggerDirectoryChangeTakesEffectNextUtterance(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	store := testStore(t, dirA, 10)
	l := startLogger(t, store)

	l.Submit(Entry{SessionID: 1, Samples: samplesOf(512, 0.1), At: time.Now()})
	waitForPairs(t, dirA, 1)

	if _, err := store.Apply(Patch{OutputDir: &dirB}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	l.Submit(Entry{SessionID: 1, Samples: samplesOf(512, 0.1), At: time.Now()})
	waitForPairs(t, dirB, 1)
	waitForPairs(t, dirA, 1) // old pair untouched
}

func TestConfigStoreApplyRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	store := testStore(t, dir, 5)

	bad := 0
	if _, err := store.Apply(Patch{MaxFiles: &bad}); err == nil {
		t.Fatalf("expected error for max_files=0")
	}
	if got := store.Snapshot().MaxFiles; got != 5 {
		t.Fatalf("failed apply mutated config: max_files = %d", got)
	}
}

func TestParseFilenameRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 6, 23, 59, 59, int(7*time.Millisecond), time.UTC)
	name := Filename(at, 42)
	ts, sessionID, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename(%q) error = %v", name, err)
	}
	if !ts.Equal(at) {
		t.Fatalf("timestamp = %v, want %v", ts, at)
	}
	if sessionID != 42 {
		t.Fatalf("session id = %d, want 42", sessionID)
	}
}

func TestParseFilenameRejectsForeign(t *testing.T) {
	for _, name := range []string{
		"notes.txt",
		"audio_garbage.raw",
		"audio_20260101_000000_000.raw",
		"audio_20260101_000000_session_1.raw",
	} {
		if _, _, err := ParseFilename(name); err == nil {
			t.Fatalf("ParseFilename(%q) accepted a foreign name", name)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	l := startLogger(t, testStore(t, dir, 10))

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		l.Submit(Entry{SessionID: int64(i), Samples: samplesOf(512, 0.1), At: base.Add(time.Duration(i) * time.Minute)})
	}
	waitForPairs(t, dir, 3)

	files, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(files))
	}
	if files[0].SessionID != 2 || files[2].SessionID != 0 {
		t.Fatalf("listing not newest-first: %+v", files)
	}
	if files[0].Samples != 512 {
		t.Fatalf("meta enrichment missing: %+v", files[0])
	}
}

func TestResolveRawRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../x.raw", "a/b.raw", "..", "audio_20260101_000000_000_session_1.raw/../x"} {
		if _, err := ResolveRaw("/tmp", name); err == nil {
			t.Fatalf("ResolveRaw accepted %q", name)
		}
	}
	if _, err := ResolveRaw("/tmp", "audio_20260101_000000_000_session_1.raw"); err != nil {
		t.Fatalf("ResolveRaw rejected a valid name: %v", err)
	}
}
