// Package audit provides file-based audit persistence with JSON Lines format,
// daily rotation, size caps, retention cleanup, and an in-memory buffer of
// recent records.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// filePattern matches audit log filenames: audit-YYYY-MM-DD.jsonl or audit-YYYY-MM-DD-N.jsonl
var filePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

// fileInfo holds the parsed parts of an audit filename.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

func parseFilename(name string) (fileInfo, bool) {
	m := filePattern.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

func buildFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.jsonl", date)
	}
	return fmt.Sprintf("audit-%s-%d.jsonl", date, suffix)
}

// sortFiles orders files chronologically: by date, then suffix.
func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileConfig configures FileStore.
type FileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string
	// RetentionDays is the number of days to keep audit files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
	// RecentSize is the number of recent records kept in memory (default 1000).
	RecentSize int
}

// FileStore writes audit records as JSON Lines, one file per UTC day, rolling
// over to a numbered file when the size cap is reached.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	recent        *ring

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileStore creates the directory if needed, opens today's file, removes
// files past retention, reloads recent records from the newest file and
// starts the hourly cleanup goroutine.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		recent:        newRing(cfg.RecentSize),
		logger:        logger,
		done:          make(chan struct{}),
	}

	today := time.Now().UTC().Format(dateLayout)
	if err := s.openCurrent(today); err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.runCleanup()
	s.loadRecent()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.cleanupLoop(ctx)

	return s, nil
}

// Append writes records, rotating by record date and by size.
func (s *FileStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.currentDate {
			if err := s.rotateLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.currentSize += int64(n)
		s.recent.add(rec)
	}
	return nil
}

// Flush syncs the current file.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the cleanup goroutine and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// Recent returns buffered records matching f, newest first.
func (s *FileStore) Recent(f audit.Filter) []audit.Record {
	return s.recent.query(f)
}

// openCurrent opens the file for date, continuing the highest existing suffix.
func (s *FileStore) openCurrent(date string) error {
	suffix := s.highestSuffix(date)
	f, size, err := s.openFile(date, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = date
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

func (s *FileStore) highestSuffix(date string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if ok && info.date == date && info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (s *FileStore) openFile(date string, suffix int) (*os.File, int64, error) {
	name := buildFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", name, err)
	}
	return f, info.Size(), nil
}

// rotateLocked closes the current file and opens date/suffix.
// Must be called with s.mu held.
func (s *FileStore) rotateLocked(date string, suffix int) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}
	f, size, err := s.openFile(date, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = date
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

// runCleanup deletes audit files older than the retention period.
func (s *FileStore) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		date, err := time.Parse(dateLayout, info.date)
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Error("audit cleanup: failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// loadRecent fills the recent buffer from the newest non-empty audit file.
func (s *FileStore) loadRecent() {
	name := s.newestFile()
	if name == "" {
		return
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		s.logger.Error("audit: failed to open file for recent records", "file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("audit: skipping malformed line", "file", name, "error", err)
			continue
		}
		s.recent.add(rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit: error reading file", "file", name, "error", err)
	}
}

func (s *FileStore) newestFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}
	var files []fileInfo
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		if fi, err := e.Info(); err != nil || fi.Size() == 0 {
			continue
		}
		files = append(files, info)
	}
	if len(files) == 0 {
		return ""
	}
	sortFiles(files)
	return files[len(files)-1].name
}

var (
	_ audit.Store        = (*FileStore)(nil)
	_ audit.RecentReader = (*FileStore)(nil)
)

// ring is a fixed-size buffer of the most recent records.
type ring struct {
	mu      sync.RWMutex
	entries []audit.Record
	head    int
	count   int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 1000
	}
	return &ring{entries: make([]audit.Record, size)}
}

func (r *ring) add(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = rec.Clone()
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// query returns matching records newest first.
func (r *ring) query(f audit.Filter) []audit.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := f.EffectiveLimit()
	out := make([]audit.Record, 0, min(limit, r.count))
	for i := 0; i < r.count && len(out) < limit; i++ {
		// head is the next write position, so head-1 is the newest entry.
		rec := r.entries[(r.head-1-i+len(r.entries))%len(r.entries)]
		if f.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
