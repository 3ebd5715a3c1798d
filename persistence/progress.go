package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Progress is the persisted state of a folder batch.
type Progress struct {
	FolderPath     string   `json:"folder_path"`
	LastUpdated    string   `json:"last_updated"`
	TotalFiles     int      `json:"total_files"`
	CompletedCount int      `json:"completed_count"`
	CurrentIndex   int      `json:"current_index"`
	PDFFiles       []string `json:"pdf_files"`
	CompletedFiles []string `json:"completed_files"`
}

// SameFolder reports whether the progress belongs to folder.
func (p *Progress) SameFolder(folder string) bool {
	return p != nil && filepath.Clean(p.FolderPath) == filepath.Clean(folder)
}

// ProgressStore is the single progress file of the application.
type ProgressStore struct {
	Path string
	Now  func() time.Time
}

// Save records the batch. files and completed are reduced to NFC base
// names; completed names not in files are dropped.
func (s *ProgressStore) Save(folder string, files, completed []string, currentIndex int) error {
	p := Progress{
		FolderPath:     folder,
		LastUpdated:    now(s.Now).Format(isoMicro),
		CurrentIndex:   currentIndex,
		PDFFiles:       make([]string, 0, len(files)),
		CompletedFiles: make([]string, 0, len(completed)),
	}
	for _, f := range files {
		p.PDFFiles = append(p.PDFFiles, NormalizeName(f))
	}
	for _, f := range completed {
		name := NormalizeName(f)
		if slices.Contains(p.PDFFiles, name) && !slices.Contains(p.CompletedFiles, name) {
			p.CompletedFiles = append(p.CompletedFiles, name)
		}
	}
	p.TotalFiles = len(p.PDFFiles)
	p.CompletedCount = len(p.CompletedFiles)
	if currentIndex < 0 || currentIndex >= p.TotalFiles {
		return fmt.Errorf("save progress: current index %d out of range [0,%d)", currentIndex, p.TotalFiles)
	}
	if err := writeJSON(s.Path, p); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Load returns the saved progress, or nil when there is none.
func (s *ProgressStore) Load() (*Progress, error) {
	var p Progress
	found, err := readJSON(s.Path, &p)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

func (s *ProgressStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}
