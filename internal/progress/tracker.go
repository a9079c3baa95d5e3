// Package progress persists per-source run state so interrupted runs can be
// resumed, and keeps the error log of a run.
package progress

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileStatus represents the processing status of a file
type FileStatus string

const (
	StatusSuccess FileStatus = "success"
	StatusError   FileStatus = "error"
)

// FileEntry represents a processed file entry
type FileEntry struct {
	Status    FileStatus `json:"status"`
	Hash      string     `json:"hash"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// TrackerData is the JSON structure for persistence
type TrackerData struct {
	Files   map[string]*FileEntry `json:"files"`
	Updated string                `json:"updated"`
	Summary struct {
		Success int `json:"success"`
		Error   int `json:"error"`
		Total   int `json:"total"`
	} `json:"summary"`
}

// Tracker tracks processing progress for resumable runs. Entries are keyed
// by source reference; fingerprints are taken from the file under root.
type Tracker struct {
	mu           sync.Mutex
	progressFile string
	root         string
	processed    map[string]*FileEntry
	log          zerolog.Logger
}

// NewTracker loads progressFile if it exists. An empty progressFile keeps
// state in memory only.
func NewTracker(progressFile, root string, log zerolog.Logger) *Tracker {
	t := &Tracker{
		progressFile: progressFile,
		root:         root,
		processed:    make(map[string]*FileEntry),
		log:          log,
	}

	if progressFile != "" {
		t.load()
	}

	return t
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.progressFile)
	if err != nil {
		return // File doesn't exist, start fresh
	}

	var trackerData TrackerData
	if err := json.Unmarshal(data, &trackerData); err != nil {
		t.log.Warn().Err(err).Str("file", t.progressFile).Msg("could not load progress file")
		return
	}

	if trackerData.Files != nil {
		t.processed = trackerData.Files
	}
	t.log.Info().
		Int("success", t.countStatus(StatusSuccess)).
		Int("failed", t.countStatus(StatusError)).
		Msg("loaded progress")
}

func (t *Tracker) save() {
	if t.progressFile == "" {
		return
	}

	trackerData := TrackerData{
		Files:   t.processed,
		Updated: time.Now().Format(time.RFC3339),
	}
	trackerData.Summary.Success = t.countStatus(StatusSuccess)
	trackerData.Summary.Error = t.countStatus(StatusError)
	trackerData.Summary.Total = len(t.processed)

	data, err := json.MarshalIndent(trackerData, "", "  ")
	if err != nil {
		t.log.Warn().Err(err).Msg("could not marshal progress data")
		return
	}

	if err := os.MkdirAll(filepath.Dir(t.progressFile), 0755); err != nil {
		t.log.Warn().Err(err).Msg("could not create progress directory")
		return
	}
	if err := os.WriteFile(t.progressFile, data, 0644); err != nil {
		t.log.Warn().Err(err).Msg("could not save progress")
	}
}

func (t *Tracker) countStatus(status FileStatus) int {
	count := 0
	for _, entry := range t.processed {
		if entry.Status == status {
			count++
		}
	}
	return count
}

// fileHash creates a quick hash based on file size and modification time
func fileHash(filePath string) string {
	info, err := os.Stat(filePath)
	if err != nil {
		return ""
	}
	hashInput := fmt.Sprintf("%d_%d", info.Size(), info.ModTime().UnixNano())
	hash := md5.Sum([]byte(hashInput))
	return fmt.Sprintf("%x", hash[:4])
}

func (t *Tracker) path(ref string) string {
	return filepath.Join(t.root, filepath.FromSlash(ref))
}

// IsProcessed reports whether ref succeeded before and its file is unchanged.
func (t *Tracker) IsProcessed(ref string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.processed[ref]
	if !ok || entry.Status != StatusSuccess {
		return false
	}
	return entry.Hash == fileHash(t.path(ref))
}

// MarkSuccess marks a file as successfully processed.
func (t *Tracker) MarkSuccess(ref, outputPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed[ref] = &FileEntry{
		Status:    StatusSuccess,
		Hash:      fileHash(t.path(ref)),
		Output:    outputPath,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	t.save()
}

// MarkError marks a file as failed.
func (t *Tracker) MarkError(ref, errorMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed[ref] = &FileEntry{
		Status:    StatusError,
		Hash:      fileHash(t.path(ref)),
		Error:     errorMsg,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	t.save()
}

// ClearFailed removes all failed entries for retry.
func (t *Tracker) ClearFailed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for key, entry := range t.processed {
		if entry.Status == StatusError {
			delete(t.processed, key)
			count++
		}
	}

	if count > 0 {
		t.save()
		t.log.Info().Int("cleared", count).Msg("cleared failed entries for retry")
	}

	return count
}

// Reset forgets every entry, used when the output directory is erased.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed = make(map[string]*FileEntry)
	t.save()
}

// GetStats returns success and error counts.
func (t *Tracker) GetStats() (success, errors int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countStatus(StatusSuccess), t.countStatus(StatusError)
}
