package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeRecord creates a decision record with the given timestamp and request ID.
func makeRecord(ts time.Time, reqID string) audit.Record {
	return audit.Record{
		Timestamp: ts,
		Event:     audit.EventDecision,
		RequestID: reqID,
		Request:   []string{"alice", "data1", "read"},
		Decision:  audit.DecisionAllow,
		Explain:   []string{"alice", "data1", "read"},
	}
}

func newStore(t *testing.T, cfg FileConfig) *FileStore {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "subdir", "audit")
	newStore(t, FileConfig{Dir: dir})

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("directory permissions = %o, want 0700", perm)
	}
}

func TestFileStore_AppendWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, FileConfig{Dir: dir})

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := s.Append(context.Background(), makeRecord(now, fmt.Sprintf("req-%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, buildFilename(now.Format(dateLayout), 0)))
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, line := range lines {
		if strings.Contains(line, "\n  ") {
			t.Errorf("line %d is indented", i)
		}
		var rec audit.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if rec.RequestID != fmt.Sprintf("req-%d", i) || rec.Decision != audit.DecisionAllow {
			t.Errorf("line %d = %+v", i, rec)
		}
	}
}

func TestFileStore_DateRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, FileConfig{Dir: dir})

	today := time.Now().UTC()
	yesterday := today.AddDate(0, 0, -1)
	ctx := context.Background()
	if err := s.Append(ctx, makeRecord(yesterday, "old"), makeRecord(today, "new")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	_ = s.Close()

	for date, want := range map[string]string{
		yesterday.Format(dateLayout): "old",
		today.Format(dateLayout):     "new",
	} {
		lines := readLines(t, filepath.Join(dir, buildFilename(date, 0)))
		if len(lines) != 1 || !strings.Contains(lines[0], want) {
			t.Errorf("file for %s = %v, want one %q record", date, lines, want)
		}
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, FileConfig{Dir: dir})
	s.maxFileSize = 500

	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		rec := makeRecord(now, fmt.Sprintf("req-%03d", i))
		rec.Request = []string{strings.Repeat("x", 50), "data1", "read"}
		if err := s.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append() error at record %d: %v", i, err)
		}
	}
	_ = s.Close()

	date := now.Format(dateLayout)
	for _, name := range []string{buildFilename(date, 0), buildFilename(date, 1)} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not found: %v", name, err)
		}
	}
}

func TestFileStore_ContinuesHighestSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	date := time.Now().UTC().Format(dateLayout)
	for _, suffix := range []int{0, 1, 2} {
		if err := os.WriteFile(filepath.Join(dir, buildFilename(date, suffix)), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	s := newStore(t, FileConfig{Dir: dir})
	if s.currentSuffix != 2 {
		t.Errorf("currentSuffix = %d, want 2", s.currentSuffix)
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := time.Now().UTC().AddDate(0, 0, -10).Format(dateLayout)
	recent := time.Now().UTC().AddDate(0, 0, -3).Format(dateLayout)

	files := map[string]bool{
		buildFilename(old, 0):    false,
		buildFilename(old, 3):    false,
		buildFilename(recent, 0): true,
		"notes.txt":              true,
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	newStore(t, FileConfig{Dir: dir, RetentionDays: 7})

	for name, keep := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if keep && err != nil {
			t.Errorf("%s should have been kept: %v", name, err)
		}
		if !keep && !os.IsNotExist(err) {
			t.Errorf("%s should have been deleted", name)
		}
	}
}

func TestFileStore_RecentNewestFirstAndFiltered(t *testing.T) {
	t.Parallel()

	s := newStore(t, FileConfig{RecentSize: 10})
	now := time.Now().UTC()

	deny := makeRecord(now, "req-deny")
	deny.Request = []string{"bob", "data1", "write"}
	deny.Decision = audit.DecisionDeny
	deny.Explain = nil
	change := audit.Record{Timestamp: now, Event: audit.EventPolicyAdd, PType: "p", Rule: []string{"bob", "data1", "write"}, Changed: true}

	if err := s.Append(context.Background(), makeRecord(now, "req-1"), deny, change); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	all := s.Recent(audit.Filter{})
	if len(all) != 3 || all[0].Event != audit.EventPolicyAdd || all[2].RequestID != "req-1" {
		t.Fatalf("Recent() = %+v, want 3 records newest first", all)
	}

	tests := []struct {
		name string
		f    audit.Filter
		want []string
	}{
		{"by decision", audit.Filter{Decision: audit.DecisionDeny}, []string{"req-deny"}},
		{"by subject", audit.Filter{Subject: "alice"}, []string{"req-1"}},
		{"by event", audit.Filter{Event: audit.EventDecision}, []string{"req-deny", "req-1"}},
		{"limited", audit.Filter{Event: audit.EventDecision, Limit: 1}, []string{"req-deny"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Recent(tt.f)
			if len(got) != len(tt.want) {
				t.Fatalf("Recent(%+v) = %d records, want %d", tt.f, len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.RequestID != tt.want[i] {
					t.Errorf("record %d = %q, want %q", i, rec.RequestID, tt.want[i])
				}
			}
		})
	}
}

func TestFileStore_RecentLoadedAtBoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	var b strings.Builder
	for i := 0; i < 5; i++ {
		data, _ := json.Marshal(makeRecord(yesterday, fmt.Sprintf("req-%d", i)))
		b.Write(data)
		b.WriteByte('\n')
	}
	b.WriteString("not json\n")
	if err := os.WriteFile(filepath.Join(dir, buildFilename(yesterday.Format(dateLayout), 0)), []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	s := newStore(t, FileConfig{Dir: dir, RecentSize: 3})
	got := s.Recent(audit.Filter{})
	if len(got) != 3 {
		t.Fatalf("Recent() = %d records, want 3", len(got))
	}
	if got[0].RequestID != "req-4" || got[2].RequestID != "req-2" {
		t.Errorf("Recent() order = %s..%s, want req-4..req-2", got[0].RequestID, got[2].RequestID)
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, FileConfig{Dir: dir, RecentSize: 2000})
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Append(context.Background(), makeRecord(now, fmt.Sprintf("g%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()
	_ = s.Close()

	lines := readLines(t, filepath.Join(dir, buildFilename(now.Format(dateLayout), 0)))
	if len(lines) != 400 {
		t.Errorf("got %d lines, want 400", len(lines))
	}
	if n := s.recent.len(); n != 400 {
		t.Errorf("recent buffer = %d, want 400", n)
	}
}

func TestFileStore_CloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := NewFileStore(FileConfig{Dir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := s.Append(context.Background(), makeRecord(time.Now(), "late")); err == nil {
		t.Error("Append() after Close should fail")
	}
}

func TestRing_Overflow(t *testing.T) {
	t.Parallel()

	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.add(makeRecord(time.Now(), fmt.Sprintf("req-%d", i)))
	}
	got := r.query(audit.Filter{})
	want := []string{"req-4", "req-3", "req-2"}
	if len(got) != len(want) {
		t.Fatalf("query() = %d records, want %d", len(got), len(want))
	}
	for i, rec := range got {
		if rec.RequestID != want[i] {
			t.Errorf("record %d = %q, want %q", i, rec.RequestID, want[i])
		}
	}
}

func TestRing_CopiesRecords(t *testing.T) {
	t.Parallel()

	r := newRing(2)
	rec := makeRecord(time.Now(), "req-1")
	r.add(rec)
	rec.Request[0] = "mallory"

	got := r.query(audit.Filter{})
	if got[0].Request[0] != "alice" {
		t.Errorf("buffer shares slices with caller: %v", got[0].Request)
	}
}

func TestParseFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ok     bool
		date   string
		suffix int
	}{
		{"audit-2026-01-02.jsonl", true, "2026-01-02", 0},
		{"audit-2026-01-02-7.jsonl", true, "2026-01-02", 7},
		{"audit-2026-01-02.log", false, "", 0},
		{"decisions.jsonl", false, "", 0},
	}
	for _, tt := range tests {
		info, ok := parseFilename(tt.name)
		if ok != tt.ok || info.date != tt.date || info.suffix != tt.suffix {
			t.Errorf("parseFilename(%q) = %+v, %v", tt.name, info, ok)
		}
	}
}
