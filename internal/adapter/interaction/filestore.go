// Package interaction persists interaction records as JSONL with size- and
// count-based rotation into numbered archive generations.
package interaction

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"leadpilot/internal/domain"
)

// FileStore is a rotating JSONL implementation of domain.InteractionStore.
// The active file lives at path; archives are path.1, path.2, ... with
// higher suffixes being newer. All mutation happens under one mutex, so an
// append racing a rotation lands in exactly one generation.
type FileStore struct {
	mu             sync.Mutex
	file           *os.File
	path           string
	maxRecords     int
	maxBytes       int64
	maxGenerations int
	count          int   // records in the active file
	size           int64 // bytes in the active file
	logger         *slog.Logger
}

// NewFileStore opens (or creates) the active store at path. Existing
// records are counted so rotation thresholds apply across restarts.
// maxRecords or maxBytes at zero disables that threshold.
func NewFileStore(path string, maxRecords int, maxBytes int64, maxGenerations int, logger *slog.Logger) (*FileStore, error) {
	if maxGenerations < 1 {
		maxGenerations = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create interaction dir: %w", err)
	}

	s := &FileStore{
		path:           path,
		maxRecords:     maxRecords,
		maxBytes:       maxBytes,
		maxGenerations: maxGenerations,
		logger:         logger,
	}
	if err := s.openActive(); err != nil {
		return nil, err
	}
	return s, nil
}

// openActive opens the active file for appending and tallies its contents.
// Caller holds the lock (or the store is not yet shared).
func (s *FileStore) openActive() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open interaction store: %w", err)
	}
	s.file = f
	s.count = 0
	s.size = 0

	read, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("scan interaction store: %w", err)
	}
	defer read.Close()
	scanner := bufio.NewScanner(read)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		s.count++
		s.size += int64(len(scanner.Bytes())) + 1
	}
	return scanner.Err()
}

// Append writes one record as a JSON line and rotates if a threshold is
// now exceeded.
func (s *FileStore) Append(_ context.Context, record domain.InteractionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return domain.NewDomainError("FileStore.Append", domain.ErrInteractionWrite, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("FileStore.Append", domain.ErrInteractionWrite, err.Error())
	}
	s.count++
	s.size += int64(len(data)) + 1

	if s.overThreshold() {
		if err := s.rotate(); err != nil {
			// The record is already durable; rotation failure only delays
			// the next archive attempt.
			s.logger.Error("interaction store rotation failed", "error", err)
		}
	}
	return nil
}

func (s *FileStore) overThreshold() bool {
	if s.maxRecords > 0 && s.count >= s.maxRecords {
		return true
	}
	if s.maxBytes > 0 && s.size >= s.maxBytes {
		return true
	}
	return false
}

// rotate archives the active file under the next numeric suffix, prunes
// generations beyond the retention bound, and reopens a fresh active file.
// Caller holds the lock.
func (s *FileStore) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close active: %w", err)
	}

	suffixes, err := s.archiveSuffixes()
	if err != nil {
		s.reopenBestEffort()
		return err
	}
	next := 1
	if len(suffixes) > 0 {
		next = suffixes[len(suffixes)-1] + 1
	}
	if err := os.Rename(s.path, fmt.Sprintf("%s.%d", s.path, next)); err != nil {
		s.reopenBestEffort()
		return fmt.Errorf("archive active: %w", err)
	}
	s.logger.Info("interaction store rotated", "generation", next, "records", s.count, "bytes", s.size)

	suffixes = append(suffixes, next)
	for len(suffixes) > s.maxGenerations {
		oldest := suffixes[0]
		suffixes = suffixes[1:]
		stale := fmt.Sprintf("%s.%d", s.path, oldest)
		if err := os.Remove(stale); err != nil {
			s.logger.Warn("stale interaction archive not removed", "path", stale, "error", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("reopen active: %w", err)
	}
	s.file = f
	s.count = 0
	s.size = 0
	return nil
}

// reopenBestEffort restores an append handle after a failed rotation so
// subsequent appends still land somewhere.
func (s *FileStore) reopenBestEffort() {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger.Error("interaction store reopen failed", "error", err)
		return
	}
	s.file = f
}

// archiveSuffixes returns the numeric suffixes of existing archives in
// ascending order.
func (s *FileStore) archiveSuffixes() ([]int, error) {
	matches, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return nil, err
	}
	var suffixes []int
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(m, s.path+"."))
		if err != nil {
			continue
		}
		suffixes = append(suffixes, n)
	}
	sort.Ints(suffixes)
	return suffixes, nil
}

// Query reads archives oldest-first, then the active file, filters, sorts
// ascending by timestamp, and applies offset/limit. limit <= 0 means no
// limit.
func (s *FileStore) Query(_ context.Context, filter domain.InteractionFilter, limit, offset int) ([]domain.InteractionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	suffixes, err := s.archiveSuffixes()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(suffixes)+1)
	for _, n := range suffixes {
		paths = append(paths, fmt.Sprintf("%s.%d", s.path, n))
	}
	paths = append(paths, s.path)

	var matched []domain.InteractionRecord
	for _, path := range paths {
		if err := readRecords(path, filter, &matched); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if offset > 0 {
		if offset >= len(matched) {
			return []domain.InteractionRecord{}, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	if matched == nil {
		matched = []domain.InteractionRecord{}
	}
	return matched, nil
}

func readRecords(path string, filter domain.InteractionFilter, out *[]domain.InteractionRecord) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record domain.InteractionRecord
		if err := json.Unmarshal(line, &record); err != nil {
			// A torn line from a crash should not poison the whole query.
			continue
		}
		if filter.Matches(record) {
			*out = append(*out, record)
		}
	}
	return scanner.Err()
}

// Stats reports the active record count and archive generation count.
func (s *FileStore) Stats(_ context.Context) (domain.InteractionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	suffixes, err := s.archiveSuffixes()
	if err != nil {
		return domain.InteractionStats{}, err
	}
	return domain.InteractionStats{
		ActiveRecords:       s.count,
		ArchivedGenerations: len(suffixes),
	}, nil
}

// Close closes the active file handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

var _ domain.InteractionStore = (*FileStore)(nil)
